// Package ws serves terminal sessions over WebSocket.
//
// Conn adapts a gorilla/websocket connection to the duplex transport the
// terminal bridge relays over. Handler authenticates the upgrade, maps
// registry failures to close codes and runs one bridge per connection.
package ws
