package scard

import (
	"bytes"
	"crypto/x509"
	"math/big"

	"github.com/google/uuid"

	"github.com/rdpengine/core/internal/engineerr"
)

// card emulates a single PIV-compatible smartcard (NIST SP 800-73-4) over
// ISO 7816-4 APDUs carried inside SCARD_IOCTL_TRANSMIT. It always presents
// exactly one PIV Authentication credential: a CHUID binding its identity
// to a client-supplied UUID, and an RSA certificate/key pair used to answer
// GENERAL AUTHENTICATE challenges.
type card struct {
	chuid       []byte
	authCert    []byte
	authKey     *x509rsaKey
	pin         string

	// pendingCLA/pendingINS/pendingP1/pendingP2 and pendingData accumulate an
	// ISO 7816-4 command chain (CLA bit 0x10 set on every part but the last).
	chaining    bool
	pendingData []byte

	// pendingResponse holds unread bytes of a multi-part GET RESPONSE reply.
	pendingResponse []byte
}

// x509rsaKey is the subset of an RSA private key this card needs to perform
// a raw (unpadded) decryption: c^d mod n. The RDP server has already hashed
// and padded the challenge; all the card does is the modular exponentiation
// a real smartcard's coprocessor would perform.
type x509rsaKey struct {
	d, n *big.Int
	size int
}

// newCard parses keyDER (PKCS#1 RSA private key) and builds the CHUID and
// certificate container this card answers GET DATA with.
func newCard(id uuid.UUID, certDER, keyDER []byte, pin string) (*card, error) {
	priv, err := x509.ParsePKCS1PrivateKey(keyDER)
	if err != nil {
		return nil, engineerr.New(engineerr.KindProgrammer, "scard: failed to parse PIV auth key: "+err.Error())
	}

	return &card{
		chuid:    buildCHUID(id),
		authCert: buildPIVAuthCert(certDER),
		authKey: &x509rsaKey{
			d:    priv.D,
			n:    priv.N,
			size: (priv.N.BitLen() + 7) / 8,
		},
		pin: pin,
	}, nil
}

// apduStatus is the 2-byte ISO 7816-4 status word appended to every
// response.
type apduStatus uint16

const (
	statusSuccess                    apduStatus = 0x9000
	statusNotFound                   apduStatus = 0x6A82
	statusVerificationFailed         apduStatus = 0x6300
	statusInstructionNotSupported    apduStatus = 0x6D00
)

// moreAvailable builds the 61xx status word signalling remaining is bytes
// still queued behind a GET RESPONSE.
func moreAvailable(remaining byte) apduStatus {
	return apduStatus(0x6100 | uint16(remaining))
}

type apduResponse struct {
	data   []byte
	status apduStatus
}

func (r apduResponse) encode() []byte {
	buf := make([]byte, 0, len(r.data)+2)
	buf = append(buf, r.data...)
	return append(buf, byte(r.status>>8), byte(r.status))
}

// PIV AID, per NIST SP 800-73-4 appendix A.
var pivAID = []byte{0xA0, 0x00, 0x00, 0x03, 0x08, 0x00, 0x00, 0x10, 0x00, 0x01, 0x00}

// handle processes one ISO 7816-4 command APDU, reassembling chained
// commands before dispatch (ISO/IEC 7816-4 §5.1.1).
func (c *card) handle(raw []byte) (apduResponse, error) {
	cmd, err := parseAPDU(raw)
	if err != nil {
		return apduResponse{}, err
	}

	if c.chaining {
		cmd.data = append(append([]byte{}, c.pendingData...), cmd.data...)
	}
	if cmd.moreChained {
		c.chaining = true
		c.pendingData = cmd.data
		return apduResponse{status: statusSuccess}, nil
	}
	c.chaining = false
	c.pendingData = nil

	switch cmd.ins {
	case insSelect:
		return c.handleSelect(cmd)
	case insVerify:
		return c.handleVerify(cmd)
	case insGetData:
		return c.handleGetData(cmd)
	case insGetResponse:
		return c.handleGetResponse()
	case insGeneralAuthenticate:
		return c.handleGeneralAuthenticate(cmd)
	default:
		return apduResponse{status: statusInstructionNotSupported}, nil
	}
}

const (
	insSelect              = 0xA4
	insVerify              = 0x20
	insGetData             = 0xCB
	insGetResponse         = 0xC0
	insGeneralAuthenticate = 0x87
)

type apduCommand struct {
	cla, ins, p1, p2 byte
	data             []byte
	moreChained      bool
}

// parseAPDU decodes a short-form (non-extended) command APDU: CLA INS P1 P2
// [Lc data] [Le].
func parseAPDU(raw []byte) (apduCommand, error) {
	if len(raw) < 4 {
		return apduCommand{}, engineerr.New(engineerr.KindProtocol, "scard: APDU too short")
	}
	cmd := apduCommand{
		cla:         raw[0],
		ins:         raw[1],
		p1:          raw[2],
		p2:          raw[3],
		moreChained: raw[0]&0x10 != 0,
	}
	if len(raw) == 4 {
		return cmd, nil
	}

	lc := int(raw[4])
	if lc == 0 || len(raw) < 5+lc {
		return cmd, nil
	}
	cmd.data = raw[5 : 5+lc]
	return cmd, nil
}

// BER-TLV tags used by SELECT and GET DATA. These don't survive a round
// trip through a general-purpose SIMPLE-TLV library (the PIV wire format
// nests SIMPLE-TLV values inside a BER-TLV container), so CHUID and the
// certificate container are built by hand below.
const (
	tagApplicationPropertyTemplate    = 0x61
	tagAID                            = 0x4F
	tagCoexistentTagAllocationAuth    = 0x79
	tagDataField                      = 0x53
	tagFASCN                          = 0x30
	tagGUID                           = 0x34
	tagExpirationDate                 = 0x35
	tagIssuerAsymmetricSignature      = 0x3E
	tagErrorDetectionCode             = 0xFE
	tagCertificate                    = 0x70
	tagCertInfo                       = 0x71
	tagDynamicAuthenticationTemplate  = 0x7C
	tagChallenge                      = 0x81
	tagResponse                       = 0x82
)

func (c *card) handleSelect(cmd apduCommand) (apduResponse, error) {
	if cmd.p1 != 0x04 || cmd.p2 != 0x00 || !bytes.Equal(cmd.data, pivAID) {
		return apduResponse{status: statusNotFound}, nil
	}

	body := tlv(tagApplicationPropertyTemplate, concatTLV(
		tlv(tagAID, []byte{0x00, 0x00, 0x10, 0x00, 0x01, 0x00}),
		tlv(tagCoexistentTagAllocationAuth, tlv(tagAID, pivAID)),
	))
	return apduResponse{status: statusSuccess, data: body}, nil
}

func (c *card) handleVerify(cmd apduCommand) (apduResponse, error) {
	if string(cmd.data) != c.pin {
		return apduResponse{status: statusVerificationFailed}, nil
	}
	return apduResponse{status: statusSuccess}, nil
}

func (c *card) handleGetData(cmd apduCommand) (apduResponse, error) {
	if cmd.p1 != 0x3F || cmd.p2 != 0xFF {
		return apduResponse{status: statusNotFound}, nil
	}

	tag, value, err := decodeSimpleTLV(cmd.data)
	if err != nil || tag != 0x5C {
		return apduResponse{status: statusNotFound}, nil
	}

	switch hexString(value) {
	case "5FC102": // Card Holder Unique Identifier.
		return apduResponse{status: statusSuccess, data: c.chuid}, nil
	case "5FC105": // X.509 Certificate for PIV Authentication.
		c.pendingResponse = c.authCert
		return c.handleGetResponse()
	default:
		return apduResponse{status: statusNotFound}, nil
	}
}

// getResponseChunkSize bounds a single GET RESPONSE reply so it stays
// within the short-form (non-extended) APDU limit.
const getResponseChunkSize = 256

func (c *card) handleGetResponse() (apduResponse, error) {
	if c.pendingResponse == nil {
		return apduResponse{status: statusNotFound}, nil
	}

	n := getResponseChunkSize
	if n > len(c.pendingResponse) {
		n = len(c.pendingResponse)
	}
	chunk := c.pendingResponse[:n]
	c.pendingResponse = c.pendingResponse[n:]

	remaining := len(c.pendingResponse)
	switch {
	case remaining == 0:
		return apduResponse{status: statusSuccess, data: chunk}, nil
	case remaining < getResponseChunkSize:
		return apduResponse{status: moreAvailable(byte(remaining)), data: chunk}, nil
	default:
		return apduResponse{status: moreAvailable(0), data: chunk}, nil
	}
}

// signAuthChallenge performs the raw RSA decryption c^d mod n the RDP
// server's already-hashed-and-padded challenge requires. Ordinary signing
// APIs hash and pad internally, which would double-apply the padding the
// server already chose; a real smartcard's coprocessor does exactly this
// bare modular exponentiation, so that's what's reproduced here.
func (c *card) signAuthChallenge(challenge []byte) []byte {
	x := new(big.Int).SetBytes(challenge)
	plain := new(big.Int).Exp(x, c.authKey.d, c.authKey.n).Bytes()

	result := make([]byte, c.authKey.size)
	copy(result[len(result)-len(plain):], plain)
	return result
}

func (c *card) handleGeneralAuthenticate(cmd apduCommand) (apduResponse, error) {
	if cmd.p1 != 0x07 {
		return apduResponse{}, engineerr.New(engineerr.KindProtocol, "scard: unsupported algorithm identifier in general authenticate")
	}
	if cmd.p2 != 0x9A {
		return apduResponse{}, engineerr.New(engineerr.KindProtocol, "scard: unsupported key reference in general authenticate")
	}

	tag, value, err := decodeSimpleTLV(cmd.data)
	if err != nil || tag != tagDynamicAuthenticationTemplate {
		return apduResponse{}, engineerr.New(engineerr.KindProtocol, "scard: malformed general authenticate request")
	}

	challenge, ok := findSimpleTLV(value, tagChallenge)
	if !ok {
		return apduResponse{}, engineerr.New(engineerr.KindProtocol, "scard: general authenticate request missing challenge")
	}

	signed := c.signAuthChallenge(challenge)
	c.pendingResponse = tlv(tagDynamicAuthenticationTemplate, tlv(tagResponse, signed))
	return c.handleGetResponse()
}

func buildCHUID(id uuid.UUID) []byte {
	resp := []byte{tagDataField, 0x3B}
	resp = append(resp, tagFASCN, 0x19)
	resp = append(resp,
		0xd4, 0xe7, 0x39, 0xda, 0x73, 0x9c, 0xed, 0x39, 0xce, 0x73, 0x9d, 0x83, 0x68, 0x58,
		0x21, 0x08, 0x42, 0x10, 0x84, 0x21, 0xc8, 0x42, 0x10, 0xc3, 0xeb,
	)
	resp = append(resp, tagGUID, 0x10)
	resp = append(resp, id[:]...)
	resp = append(resp, tagExpirationDate, 0x08)
	resp = append(resp, []byte("20300101")...)
	resp = append(resp, tagIssuerAsymmetricSignature, 0x00)
	resp = append(resp, tagErrorDetectionCode, 0x00)
	return resp
}

func buildPIVAuthCert(certDER []byte) []byte {
	inner := []byte{tagCertificate}
	inner = append(inner, berLength(len(certDER))...)
	inner = append(inner, certDER...)
	inner = append(inner, tagCertInfo, 0x01, 0x00)
	inner = append(inner, tagErrorDetectionCode, 0x00)

	outer := []byte{tagDataField}
	outer = append(outer, berLength(len(inner))...)
	return append(outer, inner...)
}

// tlv builds one BER-TLV-encoded tag/value pair with a definite length.
func tlv(tag byte, value []byte) []byte {
	out := append([]byte{tag}, berLength(len(value))...)
	return append(out, value...)
}

func concatTLV(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// berLength mirrors the original len_to_vec: short form for lengths under
// 0x7F, long form (0x80|count, then big-endian bytes) otherwise.
func berLength(length int) []byte {
	if length < 0x7F {
		return []byte{byte(length)}
	}

	var be []byte
	n := length
	for n > 0 {
		be = append([]byte{byte(n)}, be...)
		n >>= 8
	}
	return append([]byte{0x80 | byte(len(be))}, be...)
}

// decodeSimpleTLV reads one definite-length BER-TLV tag/value pair, which
// is all the single-byte tags used here need.
func decodeSimpleTLV(raw []byte) (byte, []byte, error) {
	if len(raw) < 2 {
		return 0, nil, engineerr.New(engineerr.KindProtocol, "scard: TLV too short")
	}
	tag := raw[0]
	length, offset, err := decodeBERLength(raw[1:])
	if err != nil {
		return 0, nil, err
	}
	offset += 1
	if len(raw) < offset+length {
		return 0, nil, engineerr.New(engineerr.KindProtocol, "scard: TLV value truncated")
	}
	return tag, raw[offset : offset+length], nil
}

func decodeBERLength(raw []byte) (length, consumed int, err error) {
	if len(raw) == 0 {
		return 0, 0, engineerr.New(engineerr.KindProtocol, "scard: TLV length missing")
	}
	if raw[0] < 0x80 {
		return int(raw[0]), 1, nil
	}

	count := int(raw[0] &^ 0x80)
	if len(raw) < 1+count {
		return 0, 0, engineerr.New(engineerr.KindProtocol, "scard: TLV long-form length truncated")
	}
	for _, b := range raw[1 : 1+count] {
		length = length<<8 | int(b)
	}
	return length, 1 + count, nil
}

// findSimpleTLV scans a constructed TLV value for the first tag/value pair
// matching want.
func findSimpleTLV(raw []byte, want byte) ([]byte, bool) {
	for len(raw) > 0 {
		tag, value, err := decodeSimpleTLV(raw)
		if err != nil {
			return nil, false
		}
		if tag == want {
			return value, true
		}
		_, consumed, _ := decodeBERLength(raw[1:])
		raw = raw[1+consumed+len(value):]
	}
	return nil, false
}

func hexString(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xF]
	}
	return string(out)
}
