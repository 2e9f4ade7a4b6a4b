package discord

import (
	"encoding/json"
	"fmt"
	"io"
)

// errResp is the loosely-typed error body the Discord API returns
type errResp map[string]any

func (er errResp) Error() string {
	return fmt.Sprintf("discord api error: %v", map[string]any(er))
}

func readErr(r io.Reader) (errResp, error) {
	var er errResp
	if err := json.NewDecoder(r).Decode(&er); err != nil {
		return errResp{}, fmt.Errorf("error decoding error: %s", err)
	}

	return er, nil
}
