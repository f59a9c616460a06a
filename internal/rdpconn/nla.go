package rdpconn

import (
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/rdpengine/core/internal/auth"
	"github.com/rdpengine/core/internal/engineerr"
)

// clientNonceLen is the size of the client-generated nonce CredSSP mixes
// into the public-key binding (MS-CSSP 3.1.5).
const clientNonceLen = 32

// credsspReadBufferLen bounds a single CredSSP TSRequest response; every
// message in this exchange comfortably fits inside it.
const credsspReadBufferLen = 4096

// finalResponseTimeout bounds the optional final CredSSP response: servers
// are not required to send one once they accept the client's credentials,
// so a timeout here is treated as success rather than failure.
const finalResponseTimeout = 2 * time.Second

// startNLA performs the TLS upgrade and CredSSP/NTLMv2 exchange that MS-CSSP
// calls Network Level Authentication: negotiate, challenge/authenticate
// (public key bound to prevent man-in-the-middle relay), then submit
// credentials for the server to validate before RDP negotiation resumes.
func (o *Orchestrator) startNLA() error {
	pubKey, err := o.transport.TLSUpgrade(o.tlsServerName)
	if err != nil {
		return err
	}
	o.pinnedPubKey = pubKey

	ntlmCtx := auth.NewNTLMv2(o.creds.Domain, o.creds.Username, o.creds.Password)

	clientNonce := make([]byte, clientNonceLen)
	if _, err := rand.Read(clientNonce); err != nil {
		return engineerr.Wrap(engineerr.KindFatalTransport, "NLA: generate client nonce", err)
	}

	negoMsg := ntlmCtx.GetNegotiateMessage()
	if err := o.credsspWrite(auth.EncodeTSRequestWithNonce([][]byte{negoMsg}, nil, nil, clientNonce)); err != nil {
		return fmt.Errorf("NLA negotiate: %w", err)
	}

	challengeWire, err := o.credsspRead()
	if err != nil {
		return fmt.Errorf("NLA challenge: %w", err)
	}
	challengeResp, err := auth.DecodeTSRequest(challengeWire)
	if err != nil {
		return engineerr.Wrap(engineerr.KindProtocol, "NLA: decode challenge TSRequest", err)
	}
	if len(challengeResp.NegoTokens) == 0 {
		return engineerr.New(engineerr.KindProtocol, "NLA: challenge TSRequest carried no negotiation token")
	}

	authMsg, ntlmSec, err := ntlmCtx.GetAuthenticateMessage(challengeResp.NegoTokens[0].Data)
	if err != nil {
		return fmt.Errorf("NLA authenticate: %w", err)
	}

	pubKeyAuth := auth.ComputeClientPubKeyAuth(challengeResp.Version, pubKey, clientNonce)
	encryptedPubKeyAuth := ntlmSec.GssEncrypt(pubKeyAuth)

	if err := o.credsspWrite(auth.EncodeTSRequestWithNonce([][]byte{authMsg}, nil, encryptedPubKeyAuth, clientNonce)); err != nil {
		return fmt.Errorf("NLA authenticate: %w", err)
	}

	pubKeyWire, err := o.credsspRead()
	if err != nil {
		return fmt.Errorf("NLA public key verification: %w", err)
	}
	pubKeyResp, err := auth.DecodeTSRequest(pubKeyWire)
	if err != nil {
		return engineerr.Wrap(engineerr.KindProtocol, "NLA: decode pubkey TSRequest", err)
	}

	decryptedPubKeyAuth := ntlmSec.GssDecrypt(pubKeyResp.PubKeyAuth)
	if !auth.VerifyServerPubKeyAuth(pubKeyResp.Version, decryptedPubKeyAuth, pubKey, clientNonce) {
		return engineerr.New(engineerr.KindProtocol, "NLA: server public key verification failed, possible relay attack")
	}

	domainBytes, userBytes, passBytes := ntlmCtx.GetEncodedCredentials()
	credentials := auth.EncodeCredentials(domainBytes, userBytes, passBytes)
	encryptedCredentials := ntlmSec.GssEncrypt(credentials)

	if err := o.credsspWrite(auth.EncodeTSRequest(nil, encryptedCredentials, nil)); err != nil {
		return fmt.Errorf("NLA submit credentials: %w", err)
	}

	return o.credsspReadFinal()
}

func (o *Orchestrator) credsspWrite(data []byte) error {
	_, err := o.transport.Write(data)
	return err
}

func (o *Orchestrator) credsspRead() ([]byte, error) {
	buf := make([]byte, credsspReadBufferLen)
	n, err := o.transport.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// credsspReadFinal reads the optional final TSRequest carrying the server's
// authentication result. A read timeout means the server accepted silently
// (common when Early User Authorization was already conveyed via
// Hybrid-EX) and is not an error; any TSRequest that does arrive must carry
// ErrorCode 0.
func (o *Orchestrator) credsspReadFinal() error {
	if err := o.transport.SetReadDeadline(finalResponseTimeout); err != nil {
		return err
	}
	defer func() { _ = o.transport.SetReadDeadline(0) }()

	wire, err := o.credsspRead()
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil
		}
		return fmt.Errorf("NLA final response: %w", err)
	}

	resp, err := auth.DecodeTSRequest(wire)
	if err != nil {
		// A short/empty final message that fails to parse as a TSRequest
		// is treated the same as no message at all.
		return nil
	}

	if resp.ErrorCode != 0 {
		return engineerr.New(engineerr.KindProtocol, fmt.Sprintf("NLA: server rejected credentials, error code 0x%08x", resp.ErrorCode))
	}

	return nil
}
