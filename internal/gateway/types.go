package gateway

import (
	"encoding/json"
	"strings"
)

// IntegrationBaileys is the instance engine requested on creation.
const IntegrationBaileys = "WHATSAPP-BAILEYS"

// WebhookSettings registers the helpdesk webhook on a new instance.
type WebhookSettings struct {
	URL      string   `json:"url"`
	ByEvents bool     `json:"byEvents"`
	Base64   bool     `json:"base64"`
	Events   []string `json:"events,omitempty"`
}

// CreateInstanceRequest is the body of POST /instance/create.
type CreateInstanceRequest struct {
	InstanceName string           `json:"instanceName"`
	QRCode       bool             `json:"qrcode"`
	Integration  string           `json:"integration"`
	Webhook      *WebhookSettings `json:"webhook,omitempty"`
}

// QRCodePayload is the pairing material as returned by the gateway.
type QRCodePayload struct {
	Base64      string `json:"base64"`
	Code        string `json:"code"`
	PairingCode string `json:"pairingCode"`
}

// CreateInstanceResponse is the answer to instance creation.
type CreateInstanceResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		InstanceID   string `json:"instanceId"`
		Status       string `json:"status"`
	} `json:"instance"`
	QRCode *QRCodePayload `json:"qrcode,omitempty"`
}

// ConnectResponse carries pairing material. Depending on the gateway version it
// is nested under qrcode or flat.
type ConnectResponse struct {
	PairingCode string         `json:"pairingCode"`
	Code        string         `json:"code"`
	Base64      string         `json:"base64"`
	QRCode      *QRCodePayload `json:"qrcode,omitempty"`
}

// Pairing flattens the response into one payload.
func (r ConnectResponse) Pairing() QRCodePayload {
	out := QRCodePayload{Base64: r.Base64, Code: r.Code, PairingCode: r.PairingCode}
	if r.QRCode != nil {
		if r.QRCode.Base64 != "" {
			out.Base64 = r.QRCode.Base64
		}
		if r.QRCode.Code != "" {
			out.Code = r.QRCode.Code
		}
		if r.QRCode.PairingCode != "" {
			out.PairingCode = r.QRCode.PairingCode
		}
	}
	return out
}

// StateResponse is the answer of GET /instance/connectionState.
type StateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// InstanceInfo is one entry of GET /instance/fetchInstances. Older gateway
// versions nest the record under "instance".
type InstanceInfo struct {
	Name     string `json:"name"`
	OwnerJID string `json:"ownerJid"`
	Number   string `json:"number"`
	Instance *struct {
		InstanceName string `json:"instanceName"`
		Owner        string `json:"owner"`
		Status       string `json:"status"`
	} `json:"instance,omitempty"`
}

// Owner returns the jid of the paired phone, empty when not paired.
func (i InstanceInfo) Owner() string {
	if i.OwnerJID != "" {
		return i.OwnerJID
	}
	if i.Instance != nil && i.Instance.Owner != "" {
		return i.Instance.Owner
	}
	return i.Number
}

// SendTextRequest is the body of sendText.
type SendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendMediaRequest is the body of sendMedia.
type SendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Mimetype  string `json:"mimetype,omitempty"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// SendAudioRequest is the body of sendWhatsAppAudio.
type SendAudioRequest struct {
	Number string `json:"number"`
	Audio  string `json:"audio"`
}

// SendResponse is returned by every send endpoint.
type SendResponse struct {
	Key    MessageKey `json:"key"`
	Status string     `json:"status"`
}

// MediaBase64Request asks the gateway for the bytes of a received media message.
type MediaBase64Request struct {
	Message struct {
		Key MessageKey `json:"key"`
	} `json:"message"`
	ConvertToMp4 bool `json:"convertToMp4"`
}

// MediaBase64Response holds base64 media content.
type MediaBase64Response struct {
	Base64    string `json:"base64"`
	Mimetype  string `json:"mimetype"`
	MediaType string `json:"mediaType"`
	FileName  string `json:"fileName"`
}

// parseErrorBody extracts a readable message from the gateway error shapes:
// {"message": "..."}, {"error": "..."} and {"response": {"message": [...]}}.
func parseErrorBody(body []byte) string {
	var payload struct {
		Message  any    `json:"message"`
		Error    string `json:"error"`
		Response struct {
			Message any `json:"message"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if msg := flatten(payload.Response.Message); msg != "" {
		return msg
	}
	if msg := flatten(payload.Message); msg != "" {
		return msg
	}
	return payload.Error
}

func flatten(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		b, _ := json.Marshal(val)
		return string(b)
	default:
		return ""
	}
}
