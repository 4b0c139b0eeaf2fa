// Package bacpac resolves bacpac file paths and inspects bacpac archives
// without touching a database server.
package bacpac
