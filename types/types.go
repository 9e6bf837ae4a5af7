package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// Identity is a resolved, platform-qualified channel username
// (e.g. "v2_...@finder"). Immutable once resolved.
type Identity string

// UserCandidate is one ranked entry from a keyword search.
type UserCandidate struct {
	Nickname  string `json:"nickname"`
	Username  string `json:"username"`
	Signature string `json:"signature"`
}

// FlexString decodes JSON fields that the platform serves either as a string
// or as a bare number (video ids in particular).
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Media is one entry of a video record's media list. The three fields url,
// url_token and decode_key are only meaningful together and only within the
// response that carried them.
type Media struct {
	URL       string     `json:"url"`
	URLToken  string     `json:"url_token"`
	DecodeKey FlexString `json:"decode_key"`
}

// ObjectDesc carries the description and media list of one video record.
type ObjectDesc struct {
	Description string  `json:"description"`
	Media       []Media `json:"media"`
}

// VideoRecord is one entry in a channel's video collection.
type VideoRecord struct {
	ID         FlexString `json:"id"`
	CreateTime int64      `json:"createtime"`
	ObjectDesc ObjectDesc `json:"object_desc"`
}

// CreatedAt returns the record's creation time, or a zero time when the
// platform omitted the timestamp.
func (r VideoRecord) CreatedAt() time.Time {
	if r.CreateTime == 0 {
		return time.Time{}
	}
	return time.Unix(r.CreateTime, 0).UTC()
}

// Profile is the channel owner's contact block from a home page response.
type Profile struct {
	Nickname  string `json:"nickname"`
	Username  string `json:"username"`
	Signature string `json:"signature"`
}
