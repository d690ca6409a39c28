// Package reply extracts reply-chain references embedded in message
// content. The upstream client embeds an XML sub-document in content
// whenever a message quotes an earlier one; this package detects that
// shape and pulls out the fields the normalizer needs, never raising on
// malformed input.
package reply

import "encoding/xml"

// replyTypeIndicator is the outer appmsg type value that marks a message
// as a reply-chain reference, per spec.md §4.6.
const replyTypeIndicator = 57

// Reference is the extracted reply-chain payload: a pointer from one
// message back to an earlier one, plus the replying message's own title
// text (the part the sender actually typed, as opposed to the embedded
// reference document).
type Reference struct {
	Title       string
	ServerMsgID string
	Type        int
	Content     string
	DisplayName string
	CreateTime  int64
}

type appMsgDoc struct {
	XMLName xml.Name `xml:"msg"`
	AppMsg  struct {
		Title    string `xml:"title"`
		Type     int    `xml:"type"`
		ReferMsg struct {
			Type        int    `xml:"type"`
			SvrID       string `xml:"svrid"`
			DisplayName string `xml:"displayname"`
			Content     string `xml:"content"`
			CreateTime  int64  `xml:"createtime"`
		} `xml:"refermsg"`
	} `xml:"appmsg"`
}

// Extract detects and parses a reply-chain reference from content.
// It returns (nil, false) for any message that isn't a reply or whose
// XML fails to parse — the caller treats both identically.
func Extract(content string) (*Reference, bool) {
	var doc appMsgDoc
	if err := xml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, false
	}
	if doc.AppMsg.Type != replyTypeIndicator {
		return nil, false
	}
	if doc.AppMsg.ReferMsg.SvrID == "" {
		return nil, false
	}

	return &Reference{
		Title:       doc.AppMsg.Title,
		ServerMsgID: doc.AppMsg.ReferMsg.SvrID,
		Type:        doc.AppMsg.ReferMsg.Type,
		Content:     doc.AppMsg.ReferMsg.Content,
		DisplayName: doc.AppMsg.ReferMsg.DisplayName,
		CreateTime:  doc.AppMsg.ReferMsg.CreateTime,
	}, true
}
