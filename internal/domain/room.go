package domain

// Room is what the provisioning service hands back for a started agent session.
type Room struct {
	ExternalID ExternalSessionID
	Address    string
	Credential string
}
