// Package web3 houses read-only chain connectivity for the onboarding flow:
// per-venue chain definitions (Ostium on Arbitrum, Aster on BNB Chain) loaded
// from chain.yaml, and the ChainReader contract used to check delegation,
// allowance and agent balance and to wait for transaction receipts.
package web3
