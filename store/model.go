package store

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/promptops/mcpagent/pkg/llms"
)

// MessageModel is a flat, serializable form of llms.Message.
// Message parts are interfaces and cannot be unmarshaled directly.
type MessageModel struct {
	Role  llms.Role   `json:"role"`
	Parts []PartModel `json:"parts"`
}

type PartModel struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ImageURL    string `json:"image_url,omitempty"`
	ImageDetail string `json:"image_detail,omitempty"`

	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolType   string `json:"tool_type,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Content    string `json:"content,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

const (
	partText         = "text"
	partImageURL     = "image_url"
	partBinary       = "binary"
	partToolCall     = "tool_call"
	partToolResponse = "tool_response"
)

// ToModel converts a message to its serializable form.
func ToModel(msg llms.Message) MessageModel {
	model := MessageModel{
		Role: msg.Role,
	}
	for _, p := range msg.Parts {
		switch pp := p.(type) {
		case llms.TextContent:
			model.Parts = append(model.Parts, PartModel{
				Type: partText,
				Text: pp.Text,
			})
		case llms.ImageURLContent:
			model.Parts = append(model.Parts, PartModel{
				Type:        partImageURL,
				ImageURL:    pp.URL,
				ImageDetail: pp.Detail,
			})
		case llms.BinaryContent:
			model.Parts = append(model.Parts, PartModel{
				Type:     partBinary,
				MIMEType: pp.MIMEType,
				Data:     pp.Data,
			})
		case llms.ToolCall:
			pm := PartModel{
				Type:       partToolCall,
				ToolCallID: pp.ID,
				ToolType:   pp.Type,
			}
			if pp.FunctionCall != nil {
				pm.ToolName = pp.FunctionCall.Name
				pm.Arguments = pp.FunctionCall.Arguments
			}
			model.Parts = append(model.Parts, pm)
		case llms.ToolCallResponse:
			model.Parts = append(model.Parts, PartModel{
				Type:       partToolResponse,
				ToolCallID: pp.ToolCallID,
				ToolName:   pp.Name,
				Content:    pp.Content,
				IsError:    pp.IsError,
			})
		}
	}
	return model
}

// FromModel converts a serialized message back to llms.Message.
func FromModel(model MessageModel) llms.Message {
	msg := llms.Message{
		Role: model.Role,
	}
	for _, pm := range model.Parts {
		switch pm.Type {
		case partText:
			msg.Parts = append(msg.Parts, llms.TextContent{Text: pm.Text})
		case partImageURL:
			msg.Parts = append(msg.Parts, llms.ImageURLContent{
				URL:    pm.ImageURL,
				Detail: pm.ImageDetail,
			})
		case partBinary:
			msg.Parts = append(msg.Parts, llms.BinaryContent{
				MIMEType: pm.MIMEType,
				Data:     pm.Data,
			})
		case partToolCall:
			msg.Parts = append(msg.Parts, llms.ToolCall{
				ID:   pm.ToolCallID,
				Type: pm.ToolType,
				FunctionCall: &llms.FunctionCall{
					Name:      pm.ToolName,
					Arguments: pm.Arguments,
				},
			})
		case partToolResponse:
			msg.Parts = append(msg.Parts, llms.ToolCallResponse{
				ToolCallID: pm.ToolCallID,
				Name:       pm.ToolName,
				Content:    pm.Content,
				IsError:    pm.IsError,
			})
		}
	}
	return msg
}

func marshalMessage(msg llms.Message) ([]byte, error) {
	data, err := json.Marshal(ToModel(msg))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message")
	}
	return data, nil
}

func unmarshalMessage(data []byte) (llms.Message, error) {
	var model MessageModel
	if err := json.Unmarshal(data, &model); err != nil {
		return llms.Message{}, errors.Wrap(err, "failed to unmarshal message")
	}
	return FromModel(model), nil
}
