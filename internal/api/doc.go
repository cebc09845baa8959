// Package api provides the exchange REST API client.
//
// REST endpoints:
//   - Production: https://api.sx.bet
//   - Testnet: https://api.toronto.sx.bet
//
// Every response is wrapped as {"status":"success","data":...}. Requests are
// retried with jittered exponential backoff on transport failures and on
// 429/5xx responses; other 4xx responses are returned immediately.
package api
