// Package model defines shared data types used across the copy bot.
//
// Conventions:
//   - Amounts: *uint256.Int in base-token minor units (e.g. 6 decimals for USDC)
//   - Odds: *uint256.Int fixed-point implied probability, 10^20 = 100%
//   - Timestamps: time.Time for market schedule, int64 milliseconds for feed update times
//   - IDs: hex strings for order and market hashes, checksummed addresses for accounts
package model
