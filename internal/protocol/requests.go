package protocol

import (
	"encoding/json"
	"fmt"
)

// Commands used by the session.
const (
	CommandDeclareUsername = "vln"
	CommandLogin           = "lli"
	CommandSpin            = "lws"

	// DefaultRoom is the room every session request is addressed to.
	DefaultRoom = 1
)

// Fixed client identity fields sent by the HTML5 client.
const (
	clientConm      = 491
	clientRtm       = 74
	clientPlatform  = 1
	clientDeviceID  = "0"
	clientAccountID = "1735403904264644306"
	clientReferrer  = "https://empire-html5.goodgamestudios.com"
	clientServerID  = 9
	clientPlatformF = 1
	zoneLoginPword  = "1119057"
)

// VersionCheck is the first raw handshake frame.
func VersionCheck(version string) string {
	return fmt.Sprintf("<msg t='sys'><body action='verChk' r='0'><ver v='%s' /></body></msg>", version)
}

// ZoneLogin is the connection-scope login frame. It carries no user data.
func ZoneLogin(zone, lang string) string {
	return fmt.Sprintf(
		"<msg t='sys'><body action='login' r='0'><login z='%s'><nick><![CDATA[]]></nick><pword><![CDATA[%s%%%s%%0]]></pword></login></body></msg>",
		zone, zoneLoginPword, lang,
	)
}

// DeclareUsername announces the account name before authentication.
func DeclareUsername(zone, username string) (Envelope, error) {
	payload, err := json.Marshal(struct {
		Name string `json:"NOM"`
	}{Name: username})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", CommandDeclareUsername, err)
	}
	return Envelope{Module: zone, Command: CommandDeclareUsername, Room: DefaultRoom, Payload: payload}, nil
}

// LoginParams are the user supplied parts of the authentication request.
type LoginParams struct {
	Username string
	Password string
	Lang     string
	// Token is the optional anti-automation token.
	Token string
}

type loginPayload struct {
	Conm      int     `json:"CONM"`
	Rtm       int     `json:"RTM"`
	ID        int     `json:"ID"`
	PL        int     `json:"PL"`
	Name      string  `json:"NOM"`
	Password  string  `json:"PW"`
	LT        *string `json:"LT"`
	Lang      string  `json:"LANG"`
	DeviceID  string  `json:"DID"`
	AccountID string  `json:"AID"`
	KID       string  `json:"KID"`
	Referrer  string  `json:"REF"`
	GCI       string  `json:"GCI"`
	ServerID  int     `json:"SID"`
	Platform  int     `json:"PLFID"`
	Token     string  `json:"RCT,omitempty"`
}

// Login builds the authentication request.
func Login(zone string, p LoginParams) (Envelope, error) {
	payload, err := json.Marshal(loginPayload{
		Conm:      clientConm,
		Rtm:       clientRtm,
		PL:        clientPlatform,
		Name:      p.Username,
		Password:  p.Password,
		Lang:      p.Lang,
		DeviceID:  clientDeviceID,
		AccountID: clientAccountID,
		Referrer:  clientReferrer,
		ServerID:  clientServerID,
		Platform:  clientPlatformF,
		Token:     p.Token,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", CommandLogin, err)
	}
	return Envelope{Module: zone, Command: CommandLogin, Room: DefaultRoom, Payload: payload}, nil
}

// Spin builds one lucky wheel action request.
func Spin(zone string) Envelope {
	return Envelope{Module: zone, Command: CommandSpin, Room: DefaultRoom, Payload: json.RawMessage(`{"LWET":1}`)}
}
