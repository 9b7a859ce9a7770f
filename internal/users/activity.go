package users

import (
	"encoding/json"
	"strings"

	"github.com/avaraline/incarnator/internal/models"
)

const activityStreams = "https://www.w3.org/ns/activitystreams"

func encodeActivity(doc map[string]any) ([]byte, error) {
	doc["@context"] = activityStreams
	return json.Marshal(doc)
}

// followURI is the follow's own URI when it came from a remote server,
// otherwise one minted under the source actor.
func followURI(f models.Follow, source models.Identity) string {
	if f.URI != "" {
		return f.URI
	}
	return source.ActorURI + "#follows/" + f.ID
}

func followActivity(f models.Follow, source, target models.Identity) map[string]any {
	return map[string]any{
		"id":     followURI(f, source),
		"type":   "Follow",
		"actor":  source.ActorURI,
		"object": target.ActorURI,
	}
}

// answerActivity is the target's Accept or Reject of f.
func answerActivity(typ string, f models.Follow, source, target models.Identity) map[string]any {
	return map[string]any{
		"id":     target.ActorURI + "#" + strings.ToLower(typ) + "s/" + f.ID,
		"type":   typ,
		"actor":  target.ActorURI,
		"object": followActivity(f, source, target),
	}
}

func blockURI(b models.Block, source models.Identity) string {
	if b.URI != "" {
		return b.URI
	}
	return source.ActorURI + "#blocks/" + b.ID
}

func blockActivity(b models.Block, source, target models.Identity) map[string]any {
	return map[string]any{
		"id":     blockURI(b, source),
		"type":   "Block",
		"actor":  source.ActorURI,
		"object": target.ActorURI,
	}
}

func undoActivity(actor models.Identity, inner map[string]any) map[string]any {
	id, _ := inner["id"].(string)
	return map[string]any{
		"id":     id + "/undo",
		"type":   "Undo",
		"actor":  actor.ActorURI,
		"object": inner,
	}
}
