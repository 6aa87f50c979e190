// Package game coordinates one session of the value-oracle game. It spawns
// and tears down the agent population, tracks which agents are ready, samples
// relay subsets for expert rounds, and keeps the JSON roster file in step
// with the live network so that other clients can join.
package game
