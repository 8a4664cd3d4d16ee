package markduplicates

/**
* MIT License
*
* Copyright (c) 2017 Broad Institute
*
* Permission is hereby granted, free of charge, to any person obtaining a copy
* of this software and associated documentation files (the "Software"), to deal
* in the Software without restriction, including without limitation the rights
* to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
* copies of the Software, and to permit persons to whom the Software is
* furnished to do so, subject to the following conditions:
*
* The above copyright notice and this permission notice shall be included in all
* copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
* IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
* FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
* AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
* LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
* OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
* SOFTWARE.
 */

import (
	"errors"
	"fmt"
	"math"
)

var errNoDuplicates = errors.New("no duplicates")

// bisectionSteps is the number of halvings of the bracket around the
// library size.
const bisectionSteps = 40

// landerWaterman returns C/X - (1 - exp(-N/X)), which is zero when X is
// the number of distinct molecules of a library in which N read pairs
// produced C distinct pairs.
func landerWaterman(x, c, n float64) float64 {
	return c/x + math.Expm1(-n/x)
}

// estimateLibrarySize solves landerWaterman for X, given the number of
// read pairs and of distinct read pairs. It returns errNoDuplicates if
// every pair is distinct.
func estimateLibrarySize(readPairs, uniqueReadPairs uint64) (uint64, error) {
	if readPairs == 0 || readPairs <= uniqueReadPairs {
		return 0, errNoDuplicates
	}
	n, c := float64(readPairs), float64(uniqueReadPairs)
	f := func(multiple float64) float64 { return landerWaterman(multiple*c, c, n) }

	lo, hi := 1.0, 100.0
	if f(lo) < 0 {
		return 0, fmt.Errorf("invalid values for pairs and unique pairs: %v, %v", n, c)
	}
	// Widen the bracket until f changes sign. When c and n are large and
	// nearly equal, hi reaches +Inf first.
	for f(hi) >= 0 {
		hi *= 10
		if math.IsInf(hi, 1) {
			return 0, fmt.Errorf("could not bracket the library size of (%v, %v)", readPairs, uniqueReadPairs)
		}
	}
	for i := 0; i < bisectionSteps; i++ {
		mid := (lo + hi) / 2
		u := f(mid)
		if u == 0 {
			break
		}
		if u > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return uint64(c * (lo + hi) / 2), nil
}
