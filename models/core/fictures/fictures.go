// Package fictures holds shared XML fixtures for the core model tests.
package fictures

// ResponseXML is a minimal SAML Response document exercising the container
// attributes, Issuer, Status and a bare Assertion.
const ResponseXML = `<?xml version="1.0" encoding="UTF-8"?>
<saml2p:Response xmlns:saml2p="urn:oasis:names:tc:SAML:2.0:protocol"
    Destination="http://localhost:8000/saml/acs"
    ID="saml-response-id"
    InResponseTo="saml-request-id"
    IssueInstant="2023-03-31T06:55:44.494Z"
    Version="2.0">
  <saml2:Issuer xmlns:saml2="urn:oasis:names:tc:SAML:2.0:assertion">https://samltest.id/saml/idp</saml2:Issuer>
  <saml2p:Status>
    <saml2p:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/>
  </saml2p:Status>
  <saml2:Assertion xmlns:saml2="urn:oasis:names:tc:SAML:2.0:assertion"
      ID="saml-assertion-id" IssueInstant="2023-03-31T06:55:44.494Z" Version="2.0">
    <saml2:Issuer>https://samltest.id/saml/idp</saml2:Issuer>
    <saml2:Subject>
      <saml2:NameID Format="urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress">msmith@samltest.id</saml2:NameID>
    </saml2:Subject>
    <saml2:Conditions NotBefore="2023-03-31T06:55:44.494Z" NotOnOrAfter="2023-03-31T07:00:44.494Z">
      <saml2:AudienceRestriction>
        <saml2:Audience>http://saml.julz/example</saml2:Audience>
      </saml2:AudienceRestriction>
    </saml2:Conditions>
  </saml2:Assertion>
</saml2p:Response>
`
