/*Package markduplicates marks or removes duplicate reads in a stream
  of aligned records, without changing the order of the stream.

  Duplicate Marking Concepts:

  Two reads A and B are positional duplicates if their
    1) library
    2) reference
    3) unclipped 5' position
    4) read direction (orientation)
  are ALL identical.

  Two pairs P1 and P2 are duplicates of each other if both their read1
  and read2 ends match.  Read1 is the end with the smaller (reference,
  unclipped 5' position); the pair orientation lists the strand of read1
  first, so an FR pair and an RF pair at the same positions are not
  duplicates.

  Only primary alignments take part.  Unmapped, secondary and
  supplementary records are copied through, and their position in the
  output is the one they had in the input.

  Algorithm:

  The input is read three times, once from the source and twice from
  summaries of it.

  Pass 1 reads every record once, in input order, and copies it into a
  temporary buffer (encoding/recordbuf).  For each mapped primary
  record it builds a ReadEnds: the library id, the reference and
  unclipped 5' position, the strand, a score (the sum of base qualities
  >= 15) and the index of the record in the input.  Every such ReadEnds
  goes into the fragment list.  If the record has a mapped mate, the
  ReadEnds also waits in a map keyed by reference, read group and read
  name until the mate arrives on the same reference; the two are then
  merged into one pair ReadEnds.  Ends whose mate never arrives, which
  includes pairs split across references, are dropped at the end of the
  input.

  Both lists are then sorted by (library, read1 position, orientation,
  read2 position, file indexes).  With Parallelism > 1 the sort runs on
  the worker pool (package parsort) and gives the same order as the
  sequential sort.

  Pass 2 scans each sorted list for runs of comparable entries.  In a
  run of pairs, the pair with the highest score is kept (the first one
  on a tie) and both ends of every other pair are duplicates.  In a run
  of fragments that contains an end of a mapped pair, every fragment
  without a mapped mate is a duplicate.  In a run of fragments only,
  all but the best fragment are duplicates.

  Pass 3 replays the buffer.  A primary record gets the duplicate flag
  iff its input index was found in pass 2, otherwise the flag is
  cleared.  With RemoveDups, flagged records are dropped.  The buffer is
  deleted when Mark returns.

  Metrics:

  Per-library counters follow picard's MarkDuplicates metrics file:
  examined unpaired reads and pairs, secondary and supplementary reads,
  unmapped reads, duplicates, percent duplication and the estimated
  library size.
*/
package markduplicates
