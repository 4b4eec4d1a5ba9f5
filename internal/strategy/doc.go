// Package strategy defines how the primary provider is picked from the
// healthy set and implements several algorithms:
//
//   - Tier Affinity: exact complexity-tier match, then the lowest declared timeout
//   - Least Response Time: exponentially weighted moving average (EWMA) latency scaled by in-flight calls
//   - Least Connections: fewest in-flight calls
//   - Round Robin: sequential distribution
//   - Random: uniform choice
//
// Every strategy first narrows the candidates to providers preferring the
// request's tier when at least one does.
package strategy
