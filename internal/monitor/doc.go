// Package monitor samples host memory and CPU and turns the recent history
// into a worker-count recommendation.
//
// A Monitor runs one sampling task (Start) that pushes each Snapshot into a
// bounded Ring and publishes it on a broker. Consumers either poll
// (Latest, Samples, OptimalWorkers, SystemLoad) or Subscribe for a channel of
// snapshots.
//
// Worker policy, applied to the most recent snapshot:
//
//   - start from the configured base worker count
//   - memory used above 0.8 halves it (floor 2)
//   - otherwise more than 16 GiB available adds 2 (cap 12)
//   - a mean CPU fraction above 0.85 over the last 5 samples subtracts 1 (floor 2)
package monitor
