package voice

import (
	"encoding/xml"
	"strings"
)

// Response is the TwiML document returned to every voice webhook.
type Response struct {
	XMLName  xml.Name  `xml:"Response"`
	Gather   *Gather   `xml:"Gather,omitempty"`
	Says     []Say     `xml:"Say,omitempty"`
	Pause    *Pause    `xml:"Pause,omitempty"`
	Redirect *Redirect `xml:"Redirect,omitempty"`
	Hangup   *Hangup   `xml:"Hangup,omitempty"`
}

// Gather listens for speech after speaking its nested prompt.
type Gather struct {
	Input               string `xml:"input,attr"`
	Action              string `xml:"action,attr"`
	Method              string `xml:"method,attr"`
	Language            string `xml:"language,attr,omitempty"`
	Hints               string `xml:"hints,attr,omitempty"`
	SpeechTimeout       string `xml:"speechTimeout,attr,omitempty"`
	Timeout             int    `xml:"timeout,attr,omitempty"`
	ActionOnEmptyResult bool   `xml:"actionOnEmptyResult,attr"`
	Say                 Say    `xml:"Say"`
}

type Say struct {
	Language string `xml:"language,attr,omitempty"`
	Voice    string `xml:"voice,attr,omitempty"`
	Text     string `xml:",chardata"`
}

type Pause struct {
	Length int `xml:"length,attr"`
}

type Redirect struct {
	Method string `xml:"method,attr,omitempty"`
	URL    string `xml:",chardata"`
}

type Hangup struct{}

// Marshal renders the document with the XML declaration.
func (r Response) Marshal() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func joinHints(hints []string) string {
	return strings.Join(hints, ",")
}
