package x3dh

import (
	"github.com/loomchat/loom/internal/crypto"
	"github.com/loomchat/loom/internal/domain"
)

const rootLabel = "loom-x3dh-v1"

// InitiatorRoot runs X3DH as the initiator against a claimed prekey
// bundle. It verifies the signed prekey signature before any DH, derives
// the root key, and reports which prekeys were used together with the
// fresh ephemeral public key the responder needs.
func InitiatorRoot(id domain.DeviceIdentity, bundle domain.PrekeyBundle) (
	root []byte,
	ephPub domain.X25519Public,
	usedOPK domain.OneTimePrekeyID,
	err error,
) {
	if !VerifySignedPrekey(bundle) {
		return nil, ephPub, "", domain.ErrInvalidSignature
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, ephPub, "", err
	}
	defer crypto.Wipe(ephPriv[:])

	dh1, err := crypto.DH(id.IdentityPriv, bundle.SignedPrekey)
	if err != nil {
		return nil, ephPub, "", err
	}
	dh2, err := crypto.DH(ephPriv, bundle.IdentityKey)
	if err != nil {
		return nil, ephPub, "", err
	}
	dh3, err := crypto.DH(ephPriv, bundle.SignedPrekey)
	if err != nil {
		return nil, ephPub, "", err
	}

	concat := make([]byte, 0, 32*4)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)

	if len(bundle.OneTimePrekeys) > 0 {
		opk := bundle.OneTimePrekeys[0]
		dh4, err := crypto.DH(ephPriv, opk.Pub)
		if err != nil {
			return nil, ephPub, "", err
		}
		concat = append(concat, dh4[:]...)
		usedOPK = opk.ID
	}

	root = crypto.HKDF(concat, nil, rootLabel, 32)
	crypto.Wipe(concat)
	return root, ephPub, usedOPK, nil
}

// ResponderRoot mirrors the derivation from the responder side, using
// the local signed prekey and, when the initiator claimed one, the
// matching one-time prekey private half.
func ResponderRoot(
	id domain.DeviceIdentity,
	spkPriv domain.X25519Private,
	opkPriv *domain.X25519Private,
	pre domain.PrekeyMessage,
) ([]byte, error) {
	dh1, err := crypto.DH(spkPriv, pre.InitiatorIdentityKey)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(id.IdentityPriv, pre.EphemeralKey)
	if err != nil {
		return nil, err
	}
	dh3, err := crypto.DH(spkPriv, pre.EphemeralKey)
	if err != nil {
		return nil, err
	}

	concat := make([]byte, 0, 32*4)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)

	if opkPriv != nil {
		dh4, err := crypto.DH(*opkPriv, pre.EphemeralKey)
		if err != nil {
			return nil, err
		}
		concat = append(concat, dh4[:]...)
	}

	root := crypto.HKDF(concat, nil, rootLabel, 32)
	crypto.Wipe(concat)
	return root, nil
}

// VerifySignedPrekey checks the bundle's signed prekey signature against
// its signing key.
func VerifySignedPrekey(bundle domain.PrekeyBundle) bool {
	return crypto.VerifyEd25519(
		bundle.SigningKey, bundle.SignedPrekey.Slice(), bundle.SignedPrekeySignature)
}
