package btprpc

import (
	"fmt"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpwire"
)

// The sub-protocol names of the auth handshake. The primary "auth" entry
// tags the message, the username and token ride along as text entries.
const (
	authProtocol         = "auth"
	authUsernameProtocol = "auth_username"
	authTokenProtocol    = "auth_token"
)

// Role tags a socket slot with the side of the handshake we play on it.
type Role interface {
	role()
}

// ClientRole is a socket we dialed: we open the conversation by sending our
// credentials.
type ClientRole struct {
	Username string
	Token    string
}

func (ClientRole) role() {}

// ServerRole is a socket we accepted: the peer must authenticate before
// anything else, judged by AuthCheck.
type ServerRole struct {
	// AuthCheck decides whether the presented credentials belong to our
	// peer. Acceptance is governed by this check alone.
	AuthCheck func(username, token string) bool
}

func (ServerRole) role() {}

// newAuthMessage assembles the auth handshake message a client sends as its
// first frame.
func newAuthMessage(username, token string) *btpwire.DataMessage {
	return btpwire.NewDataMessage([]btpwire.ProtocolData{
		{
			Name:        authProtocol,
			ContentType: btpwire.ContentTypeOctetStream,
		},
		{
			Name:        authUsernameProtocol,
			ContentType: btpwire.ContentTypeTextPlain,
			Data:        []byte(username),
		},
		{
			Name:        authTokenProtocol,
			ContentType: btpwire.ContentTypeTextPlain,
			Data:        []byte(token),
		},
	})
}

// parseAuthMessage extracts the credentials from a peer's handshake. The
// message must be a MESSAGE whose primary sub-protocol is auth, carrying
// username and token entries.
func parseAuthMessage(msg btpwire.Message) (string, string, error) {
	dataMsg, ok := msg.(*btpwire.DataMessage)
	if !ok {
		return "", "", fmt.Errorf("first message must be of type "+
			"MESSAGE, not %v", msg.MsgType())
	}
	if dataMsg.PrimaryProtocol() != authProtocol {
		return "", "", fmt.Errorf("first message must have primary "+
			"protocol %q, not %q", authProtocol,
			dataMsg.PrimaryProtocol())
	}

	var username, token *string
	for _, entry := range dataMsg.ProtocolData {
		value := string(entry.Data)
		switch entry.Name {
		case authUsernameProtocol:
			username = &value
		case authTokenProtocol:
			token = &value
		}
	}
	if username == nil || token == nil {
		return "", "", fmt.Errorf("auth message is missing username " +
			"or token entries")
	}

	return *username, *token, nil
}
