// Package command defines the rxcheckpoint-cli commands on urfave/cli/v2.
//
// Online commands (server, entity) talk to a running server through the
// admin API. Offline commands (store) open a checkpoint store directly and
// must not run against a store the server has open. keygen and token
// produce secrets for the server configuration.
package command
