package usecase

import (
	"fmt"
	"strings"

	"evidence-engine/internal/domain"
)

// PromptInput contains the pieces that feed into the prompt builder.
type PromptInput struct {
	AssessmentID  string
	ControlID     string
	ControlTitle  string
	ControlText   string
	PromptVersion string
	Evidence      []domain.ScoredChunk
	Inheritance   *domain.InheritanceRecord

	// Strict is set on the single re-ask after a parse failure: the format
	// instructions are repeated and prose outside the JSON object is
	// forbidden outright.
	Strict bool
}

// PromptBuilder builds the chat messages sent to the assessment model.
type PromptBuilder interface {
	Build(input PromptInput) ([]domain.Message, error)
}

// XMLPromptBuilder creates structured prompts that separate evidence,
// instructions, control text, and format.
type XMLPromptBuilder struct {
	additionalInstructions []string
}

// NewXMLPromptBuilder creates a prompt builder with optional extra instructions appended.
func NewXMLPromptBuilder(additionalInstructions ...string) PromptBuilder {
	return &XMLPromptBuilder{
		additionalInstructions: additionalInstructions,
	}
}

// Build renders the Messages for the Chat API.
func (b *XMLPromptBuilder) Build(input PromptInput) ([]domain.Message, error) {
	if input.PromptVersion == "" {
		return nil, fmt.Errorf("prompt version is required")
	}
	if input.ControlID == "" {
		return nil, fmt.Errorf("control id is required")
	}

	// 1. Build System Message (Instructions + Format)
	var sysSb strings.Builder
	sysSb.WriteString("<instructions>\n")

	selectedInstructions := []string{
		"You are a compliance analyst assessing whether a security control is satisfied, based ONLY on the provided <evidence>.",
		"1. Read the <control> requirement and every <evidence> chunk carefully.",
		"2. Decide the control status: \"Met\", \"Not Met\", \"Partially Met\", or \"Not Applicable\".",
		"3. Write a narrative (150-400 words) explaining the determination, citing evidence by chunk_id in square brackets, e.g. [" + exampleChunkID + "].",
		"4. Every claim in the narrative MUST trace to a chunk listed in \"evidence_mapping\". Do not use external knowledge.",
		"5. If the evidence is contradictory or incomplete, say so in \"gaps\" and lower your \"confidence_signal\".",
		"6. If a <provider_inheritance> section is present, account for the provider responsibility split in your determination.",
		"7. Follow the JSON format specified below EXACTLY.",
	}

	if len(input.Evidence) == 0 {
		selectedInstructions = append(selectedInstructions,
			"8. NO evidence was retrieved for this control. Default to \"Not Met\" unless provider inheritance alone satisfies the requirement, state in the narrative that no supporting evidence exists, and set \"confidence_signal\" at or below 0.2.",
		)
	}
	if input.Strict {
		selectedInstructions = append(selectedInstructions,
			"IMPORTANT: your previous reply was not valid JSON. Respond with ONLY the JSON object. No prose, no markdown fences, nothing before or after it.",
		)
	}

	for _, inst := range append(selectedInstructions, b.additionalInstructions...) {
		sysSb.WriteString("  <line>")
		sysSb.WriteString(escape(inst))
		sysSb.WriteString("</line>\n")
	}
	sysSb.WriteString("</instructions>\n\n")

	sysSb.WriteString("<format>\n")
	sysSb.WriteString("JSON: {\n")
	sysSb.WriteString("  \"status\": \"Met\" | \"Not Met\" | \"Partially Met\" | \"Not Applicable\",\n")
	sysSb.WriteString("  \"narrative\": \"Markdown text with [chunk_id] citations\",\n")
	sysSb.WriteString("  \"rationale\": \"One paragraph summarizing the determination logic\",\n")
	sysSb.WriteString("  \"evidence_mapping\": [{\"chunk_id\":\"...\", \"note\":\"what this chunk demonstrates\"}],\n")
	sysSb.WriteString("  \"confidence_signal\": 0.0,  // Your certainty in this determination, 0.0-1.0\n")
	sysSb.WriteString("  \"gaps\": [\"evidence that is missing or contradictory\"],\n")
	sysSb.WriteString("  \"recommendations\": [\"remediation steps, if any\"]\n")
	sysSb.WriteString("}\n")
	sysSb.WriteString("</format>\n")

	// 2. Build User Message (Control + Inheritance + Evidence)
	var userSb strings.Builder
	userSb.WriteString(fmt.Sprintf("<control version=\"%s\">\n", escape(input.PromptVersion)))
	userSb.WriteString("  <control_id>")
	userSb.WriteString(escape(input.ControlID))
	userSb.WriteString("</control_id>\n")
	userSb.WriteString("  <title>")
	userSb.WriteString(escape(input.ControlTitle))
	userSb.WriteString("</title>\n")
	userSb.WriteString("  <requirement>")
	userSb.WriteString(escape(input.ControlText))
	userSb.WriteString("</requirement>\n")
	userSb.WriteString("</control>\n\n")

	if input.Inheritance != nil {
		userSb.WriteString("<provider_inheritance>\n")
		userSb.WriteString("  <provider>")
		userSb.WriteString(escape(input.Inheritance.ProviderName))
		userSb.WriteString("</provider>\n")
		userSb.WriteString("  <responsibility>")
		userSb.WriteString(escape(string(input.Inheritance.Responsibility)))
		userSb.WriteString("</responsibility>\n")
		userSb.WriteString("  <narrative>")
		userSb.WriteString(escape(input.Inheritance.Narrative))
		userSb.WriteString("</narrative>\n")
		userSb.WriteString("</provider_inheritance>\n\n")
	}

	userSb.WriteString("<evidence>\n")
	for _, ev := range input.Evidence {
		userSb.WriteString("  <chunk>\n")
		userSb.WriteString("    <chunk_id>")
		userSb.WriteString(escape(ev.ChunkID.String()))
		userSb.WriteString("</chunk_id>\n")
		userSb.WriteString("    <doc_type>")
		userSb.WriteString(escape(ev.Tags.DocType))
		userSb.WriteString("</doc_type>\n")
		userSb.WriteString("    <similarity>")
		userSb.WriteString(fmt.Sprintf("%.6f", ev.Similarity))
		userSb.WriteString("</similarity>\n")
		userSb.WriteString("    <created_at>")
		userSb.WriteString(escape(ev.CreatedAt))
		userSb.WriteString("</created_at>\n")
		userSb.WriteString("    <text>")
		userSb.WriteString(escape(ev.Content))
		userSb.WriteString("</text>\n")
		userSb.WriteString("  </chunk>\n")
	}
	userSb.WriteString("</evidence>\n")

	return []domain.Message{
		{Role: "system", Content: sysSb.String()},
		{Role: "user", Content: userSb.String()},
	}, nil
}

const exampleChunkID = "5f1c2e8a-0000-0000-0000-000000000000"

func escape(value string) string {
	s := strings.TrimSpace(value)
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(s)
}
