// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"encoding/binary"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// identityDomainKey separates node identifiers from any other BLAKE3
// use of the same host data.
var identityDomainKey = [32]byte{
	'l', 'i', 'f', 'e', 'l', 'i', 'n', 'e', 't', 't', 'y', '.',
	'n', 'o', 'd', 'e', '-', 'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// machineIDPath is a variable so tests can point it elsewhere.
var machineIDPath = "/etc/machine-id"

// NodeIdentity returns a stable identifier for this host. It is the
// first four bytes of a keyed BLAKE3 hash over the hostname and the
// systemd machine id, so it survives restarts but differs between
// hosts. Either input may be missing; the result is then derived from
// whatever is available.
func NodeIdentity() uint32 {
	hostname, _ := os.Hostname()
	machineID, _ := os.ReadFile(machineIDPath)
	return DeriveNodeID(hostname, strings.TrimSpace(string(machineID)))
}

// DeriveNodeID hashes the identifying inputs into a node id. Zero is
// reserved for "unset", so a zero hash maps to one.
func DeriveNodeID(hostname, machineID string) uint32 {
	hasher, err := blake3.NewKeyed(identityDomainKey[:])
	if err != nil {
		panic("negotiation: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(hostname))
	hasher.Write([]byte{0})
	hasher.Write([]byte(machineID))
	sum := hasher.Sum(nil)
	identifier := binary.BigEndian.Uint32(sum[:4])
	if identifier == 0 {
		identifier = 1
	}
	return identifier
}
