// Package tlsutil provides a hardened TLS 1.2+, AEAD-only
// configuration shared by the status server and any outbound HTTP
// client the hub opens.
package tlsutil
