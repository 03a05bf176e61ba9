package prompts

import (
	"fmt"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/llm"
)

const interpretationSystem = "You are a Senior Data Analyst with expertise in analyzing statistical data. " +
	"You excel at uncovering insights from the data and identifying relationships between different datasets."

const interpretationInstructions = `You are an expert data analyst. Your task is to answer the user's question based on the provided information.

Your most important rule is this:
**The language of your response MUST EXACTLY MATCH the language used in the 'Question'. There are NO exceptions to this rule.**

Additionally, follow these content rules:
1. Your response must contain a detailed analysis of the charts.
2. Provide a clear, direct answer to the question.
3. Include a final conclusion that is under 300 words.`

// Interpretation renders the final analysis conversation: the analyst
// system prompt and a user turn holding the question and the executed
// charts. override replaces the canned analysis instructions when set.
func Interpretation(question string, charts []*aralia.ChartSpec, override string) []llm.Message {
	instructions := interpretationInstructions
	if override != "" {
		instructions = override
	}

	user := fmt.Sprintf(`Question: ***%s***
Information: %s

Please pay special attention that "json_data" is the actual retrieved data; please help me analyze this data carefully.

%s`, question, asJSON(charts), instructions)

	return []llm.Message{
		{Role: "system", Content: interpretationSystem},
		{Role: "user", Content: user},
	}
}
