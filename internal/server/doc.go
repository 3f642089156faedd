// Package server is the network edge of roomchat.
//
// It upgrades chat requests to websocket connections and hands each one to
// the fan-out engine as a Client. It serves the account, room and history
// endpoints under /api/v1 and owns the HTTP server lifecycle, including
// closing live connections on shutdown. Configuration is read from the
// environment by ParseConfig.
package server
