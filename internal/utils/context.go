// Package utils provides shared utility functions and constants
package utils

// ContextKeyClient is the key used to store the session's S3 client in the echo context
const ContextKeyClient = "client"

// ContextKeySession is the key used to store the session id in the echo context
const ContextKeySession = "session"

// CookieName is the name of the session cookie
const CookieName = "IronSeal"
