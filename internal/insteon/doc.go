// Package insteon implements the hub collaborator: PLM frame encoding and
// decoding, the command exchange loop, per-device capability objects, and
// the model-specific transports (serial PowerLinc, IP-direct hub, and the
// HTTP buffer-polled 2245 hub).
//
// The package converts between wire units and bridge units at its
// boundary: levels cross as 0-100 percentages and ramp rates as
// milliseconds, never as raw register bytes.
package insteon
