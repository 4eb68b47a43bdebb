package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
)

// deflateMessage marshals msg to XML and compresses it with raw DEFLATE,
// the wire format the HTTP-Redirect binding requires for its SAMLRequest/
// SAMLResponse parameter. A positive indent pretty-prints the XML before
// compression.
func deflateMessage(msg interface{}, indent int) ([]byte, error) {
	const op = "saml.deflateMessage"

	buf := bytes.Buffer{}

	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	encoder := xml.NewEncoder(fw)
	if indent > 0 {
		encoder.Indent("", strings.Repeat(" ", indent))
	}
	if err := encoder.Encode(msg); err != nil {
		return nil, fmt.Errorf("%s: failed to encode message: %w", op, err)
	}

	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("%s: failed to flush deflate writer: %w", op, err)
	}

	return buf.Bytes(), nil
}

// inflateMessage reverses deflateMessage: base64-decode then raw-DEFLATE
// decompress, returning the original XML bytes. Used to decode an
// incoming SAMLRequest/SAMLResponse query parameter from the
// HTTP-Redirect binding.
func inflateMessage(b64 string) ([]byte, error) {
	const op = "saml.inflateMessage"

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base64: %w", op, err)
	}

	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()

	xmlBytes, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to inflate: %w", op, err)
	}

	return xmlBytes, nil
}

const soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

func wrapSOAPEnvelope(bodyXML []byte) ([]byte, error) {
	const op = "saml.wrapSOAPEnvelope"

	bodyDoc := etree.NewDocument()
	if err := bodyDoc.ReadFromBytes(bodyXML); err != nil {
		return nil, fmt.Errorf("%s: failed to parse body: %w", op, err)
	}

	doc := etree.NewDocument()
	envelope := doc.CreateElement("soap11:Envelope")
	envelope.CreateAttr("xmlns:soap11", soapEnvelopeNS)

	body := envelope.CreateElement("soap11:Body")
	body.AddChild(bodyDoc.Root().Copy())

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to serialize envelope: %w", op, err)
	}

	return out, nil
}

// extractSOAPBodyChild returns the first child element of the SOAP Body,
// i.e. the actual SAML message carried inside the envelope.
func extractSOAPBodyChild(soapXML []byte) (*etree.Element, error) {
	const op = "saml.extractSOAPBodyChild"

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(soapXML); err != nil {
		return nil, fmt.Errorf("%s: failed to parse SOAP envelope: %w", op, err)
	}

	body := doc.Root().SelectElement("Body")
	if body == nil {
		// Namespace-agnostic fallback, since IdPs vary their SOAP prefix.
		for _, child := range doc.Root().ChildElements() {
			if child.Tag == "Body" {
				body = child
				break
			}
		}
	}
	if body == nil {
		return nil, fmt.Errorf("%s: no SOAP Body element found", op)
	}

	children := body.ChildElements()
	if len(children) == 0 {
		return nil, fmt.Errorf("%s: SOAP Body has no children", op)
	}

	return children[0], nil
}
