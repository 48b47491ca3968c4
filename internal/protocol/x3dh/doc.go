// Package x3dh implements the authenticated key agreement that seeds a
// pairwise double-ratchet session.
//
// The initiator combines up to four Diffie–Hellman computations over the
// identity, signed and one-time prekeys:
//
//	DH1 = DH(IK_A, SPK_B)
//	DH2 = DH(EK_A, IK_B)
//	DH3 = DH(EK_A, SPK_B)
//	DH4 = DH(EK_A, OPK_B)   (when a one-time prekey was claimed)
//
// and feeds the concatenation through HKDF-SHA256 to derive the root
// key. The responder mirrors the computation from its private halves.
package x3dh
