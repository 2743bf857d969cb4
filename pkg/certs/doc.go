// Package certs is the certificate provider used for TLS termination and
// CONNECT interception.
//
// A Provider owns one signing CA, loaded from PEM files or generated on first
// use, and mints leaf certificates per host on demand. Leaves are cached in a
// bounded LRU keyed by host name. Clients that should trust intercepted
// traffic install the CA certificate returned by CACertPEM.
package certs
