package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "table":
		return tableTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `name = "gcctl"
account_id = 76561198000000001
transport = "ws"
address = "ws://localhost:27000/outer"
snapshot_url = "http://localhost:27080"
admin_addr = ":9400"
admin_token = ""
cors_origins = ["http://localhost:3000"]
tables = ["reference.toml"]
econ = true

handshake_timeout = "30s"
heartbeat_interval = "15s"
request_timeout = "10s"
inbound_buffer = 64

[tls]
enabled = false
server_name = ""
ca_file = ""
cert_file = ""
key_file = ""
`

const tableTemplate = `name = "reference"
app_id = 730
item_type_id = 1
records = ["craft", "craft_response", "rename"]

[tags]
hello = 4006
welcome = 4004
goodbye = 4008
connection_status = 4009
heartbeat = 4010
cache_subscribed = 24
cache_unsubscribed = 25
object_create = 21
object_update = 22
object_update_multiple = 26
object_destroy = 23
craft = 1002
craft_response = 1003
rename = 1006
inspect = 9156
inspect_response = 9157
container_add = 1053
container_remove = 1054
container_list = 1059
customization_notification = 1090

[attributes]
container_low = 272
container_high = 273
container_count = 270
container_defs = [1201]
tradable_after = 75
decoration_base = 113
decoration_stride = 4
decoration_slots = 5
`
