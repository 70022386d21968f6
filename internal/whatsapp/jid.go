package whatsapp

import "strings"

const (
	UserServer  = "s.whatsapp.net"
	GroupServer = "g.us"
)

// NormalizeAddress turns a phone number into a user JID. Anything already
// carrying a server part is returned unchanged.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "@") {
		return addr
	}
	return addr + "@" + UserServer
}

// IsGroup reports whether jid addresses a group conversation.
func IsGroup(jid string) bool {
	return strings.HasSuffix(jid, "@"+GroupServer)
}

// BareJID drops the ":device" suffix from a user JID, so
// "628123:12@s.whatsapp.net" becomes "628123@s.whatsapp.net".
func BareJID(jid string) string {
	user, server, ok := strings.Cut(jid, "@")
	if !ok {
		server = UserServer
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user + "@" + server
}

// User returns the user part of a JID.
func User(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user
}
