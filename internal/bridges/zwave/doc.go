// Package zwave connects HomeNet to a Z-Wave network through an MQTT
// gateway.
//
// HomeNet never opens the Z-Wave controller itself. A gateway process owns
// the controller and mirrors its node table onto MQTT under a topic prefix:
//
//	{prefix}/driver                          driver ready / failed / scan complete
//	{prefix}/node/{id}/info                  node added / ready / removed (retained)
//	{prefix}/node/{id}/value/{cc}/{index}    value state, empty = removed (retained)
//	{prefix}/node/{id}/set/{cc}/{index}      value writes from HomeNet
//	{prefix}/node/{id}/poll/{cc}             polling control from HomeNet
//
// The Bridge subscribes to the first three and keeps an in-memory copy of
// every node and its values, keyed by command class and index. Devices in
// the device database refer to nodes by number, and the API reads and
// writes their values through the Bridge by label (for example "Level" or
// "Switch").
//
// When a node becomes ready, polling is enabled for the configured command
// classes (binary and multilevel switches by default) so their values stay
// current even when the device does not report changes itself.
package zwave
