// Package localserver serves the admin API on a Unix domain socket.
//
// The socket is created with mode 0600, so only the server's user can
// connect. Requests on it skip bearer token and allow list checks; the
// rxcheckpoint-cli reaches it with --server unix:///path/to/socket.
package localserver
