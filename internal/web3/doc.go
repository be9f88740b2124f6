// Package web3 defines the chain client facade used by the transfer
// pipeline and the chain tools. Implementations live in sub-packages;
// internal/web3/ethereum talks to any EVM JSON-RPC node.
package web3
