package nickauth

import (
	"encoding/json"

	"github.com/rainbowbismuth/euphoria-go/internal/data"
)

func decodeInto(pkt data.Packet, v any) error {
	if len(pkt.Data) == 0 {
		return nil
	}
	return json.Unmarshal(pkt.Data, v)
}
