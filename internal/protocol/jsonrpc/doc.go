// Package jsonrpc owns the JSON-RPC 2.0 message model.
//
// Ownership boundary:
// - envelope decode of one wire line
// - total classification into Request/Response/Notification/Error/Null
// - construction and encode of outgoing messages
// - error code set (named codes plus the reserved server range)
//
// Classification precedence is error > result > (method, id) > null; a line
// carrying both error and result is an error message, never a rejection.
package jsonrpc
