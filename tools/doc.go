// Package tools defines the Tool interface for LLM agents, including the parameter
// schema contract used to expose tools to completion providers. Tools enable agents
// to interact with external systems and APIs in a structured, extensible way.
package tools
