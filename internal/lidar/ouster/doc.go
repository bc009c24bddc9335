// Package ouster owns the Ouster legacy UDP data format on the transmit side.
//
// Responsibilities: the fixed packet layout (channel data block, azimuth
// block, 16-block data packet) for the four supported channel counts, the
// mapping from range-image columns to encoder counts, and the per-frame
// batcher that turns a column-major range image into a stream of packets.
//
// Dependency rule: this package knows nothing about sockets. Packets leave
// through the PacketSink interface, implemented by internal/lidar/network.
package ouster
