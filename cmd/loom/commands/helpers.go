package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/loomchat/loom/internal/domain"
)

// findSession resolves a peer named by user and device id to its
// pairwise session. Commands address peers this way so nobody has to
// paste identity keys around.
func findSession(user domain.UserID, device domain.DeviceID) (domain.PairwiseSession, error) {
	sessions, err := wire.Sessions.Sessions()
	if err != nil {
		return domain.PairwiseSession{}, err
	}
	for _, sess := range sessions {
		if sess.Peer.UserID == user && sess.Peer.DeviceID == device {
			return sess, nil
		}
	}
	return domain.PairwiseSession{}, fmt.Errorf("no session with %s/%s, run start-session first", user, device)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSONStdin(v any) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
