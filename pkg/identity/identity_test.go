package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_Superuser(t *testing.T) {
	id := Parse("transitiverobotics:ops")
	assert.Equal(t, Superuser, id.Kind)
}

func TestParse_Capability(t *testing.T) {
	id := Parse("cap:@scope/capName")
	assert.Equal(t, Capability, id.Kind)
	assert.Equal(t, "@scope", id.Scope)
	assert.Equal(t, "capName", id.Name)
}

func TestParse_CapabilityMissingSlashIsUnknown(t *testing.T) {
	id := Parse("cap:noslash")
	assert.Equal(t, Unknown, id.Kind)
}

func TestParse_Device(t *testing.T) {
	id := Parse("user1:dev1")
	assert.Equal(t, Device, id.Kind)
	assert.Equal(t, "user1", id.Org)
	assert.Equal(t, "dev1", id.DeviceID)
}

func TestParse_WebsocketUser(t *testing.T) {
	id := Parse(`{"id":"user1","payload":{}}`)
	assert.Equal(t, WebsocketUser, id.Kind)
	assert.Equal(t, `{"id":"user1","payload":{}}`, id.Raw)
}

func TestParse_UnknownWhenNoSeparator(t *testing.T) {
	id := Parse("garbage")
	assert.Equal(t, Unknown, id.Kind)
}
