// Package proxy holds the request-path plumbing shared by the handlers:
// payload parsing and validation, provider-format conversion, response
// formatting with gateway augmentation, SSE writing, and the mapping
// from internal errors to the client error envelope.
package proxy
