// Package od4 speaks the OD4 session protocol: protobuf-encoded envelopes
// carried in UDP multicast datagrams on group 225.0.0.<cid>, port 12175.
//
// # Wire format
//
// Each datagram holds exactly one envelope:
//
//	0x0D 0xA4 <payload length, 3 bytes little endian> <Envelope>
//
// Envelope fields are dataType(1), serializedData(2), sent(3), received(4),
// sampleTimeStamp(5) and senderStamp(6). Time stamps are nested messages of
// seconds(1) and microseconds(2). Signed integers travel as zigzag varints,
// unsigned integers as plain varints.
package od4
