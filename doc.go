package tinytablet

/*
TinyTablet is the multi-version concurrency control layer of a single tablet, intended for teaching and
experimentation. It follows the design used by tablet servers in Kudu and YugaByte: every write operation is
stamped with a hybrid time and readers see a snapshot that contains exactly the operations committed before some
hybrid time.

Building TinyTablet produces one executable, mvcc-bench, which runs concurrent writers and readers against an
in-memory tablet, checks that every committed write is visible to later reads, then replays the write log into a
follower tablet and compares the two.

The `tinytablet` module is organized into the following packages:

* `kv/util/hybridtime`: the hybrid time type, a physical clock reading in microseconds plus a logical counter.
* `kv/clock`: hybrid and logical clocks that hand out hybrid times.
* `kv/tablet/mvcc`: the MVCC manager that tracks in-flight operations, the safe time and the clean time, and the
  snapshots it hands to readers.
* `kv/tablet`: an in-memory tablet built on the manager, with local writes, snapshot reads, bootstrap from a log and
  an out-of-order applier for follower replicas.
* `kv/transaction/latches`: per-key latches serializing conflicting writes.
* `kv/workload` and `kv/mvcc-bench`: the visibility-checking workload and its command line driver.
* `kv/config` and `log`: configuration files and logging.
*/
