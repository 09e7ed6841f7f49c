package classifier

import (
	"encoding/json"
	"fmt"
)

func classifyPrompt(subject, body string) string {
	return fmt.Sprintf(`You are an AI that analyzes bank notification emails (mostly Spanish-language, Colombian banks) and decides whether they describe a financial transaction worth tracking.

Return a STRICT JSON object with exactly these keys:

{
  "should_track": false,
  "type": "",
  "amount": null,
  "currency": "",
  "description": "",
  "date": "",
  "method": ""
}

### FIELD DEFINITIONS

should_track
- true only if the email describes a completed money movement (purchase, transfer, withdrawal, deposit, payment). Marketing, OTP codes, statements and balance alerts are false.

type
- "income" if money entered the account, "expense" if it left. Empty string when should_track is false.

amount
- Numeric value only, no thousands separators or currency symbols. null when should_track is false.

currency
- ISO code inferred from the text. Default to COP if unclear.

description
- Short natural-language description (merchant, counterparty or purpose).

date
- The transaction date exactly as stated in the email, empty if absent.

method
- One of: "card", "transfer", "withdrawal", "deposit", "payment", "other". Empty when should_track is false.

### CRITICAL RULES
- Output ONLY the JSON object, no explanations, no extra keys.
- Never hallucinate amounts; extract only what the text states.

### Now analyze this email:

Subject: %s

%s`, subject, body)
}

func categorizePrompt(subject, body string) string {
	return fmt.Sprintf(`You are an AI that categorizes financial transactions found in bank notification emails (mostly Spanish-language, Colombian banks).

Return a STRICT JSON object with exactly these keys:

{
  "category": "",
  "subcategory": "",
  "confidence": 0.0
}

### FIELD DEFINITIONS

category
- One of: "food", "transport", "housing", "utilities", "health", "entertainment", "shopping", "education", "salary", "transfers", "fees", "other".

subcategory
- A free-form refinement, e.g. "restaurants", "rideshare", "rent", "streaming". Empty if none applies.

confidence
- Number between 0 and 1 expressing how sure you are of the category.

### CRITICAL RULES
- Output ONLY the JSON object, no explanations, no extra keys.

### Now categorize this email:

Subject: %s

%s`, subject, body)
}

func extractTimePrompt(subject, body string) string {
	return fmt.Sprintf(`You are an AI that extracts the exact datetime a transaction happened from a bank notification email (mostly Spanish-language, Colombian banks; local offset is -05:00).

Return a STRICT JSON object with exactly one key:

{
  "occurred_at": ""
}

### FIELD DEFINITION

occurred_at
- ISO 8601 datetime with the fixed -05:00 offset, e.g. "2025-03-14T18:22:09-05:00".
- If the email states only a date, use T00:00:00-05:00.
- If no datetime is stated at all, use the email's own date.

### CRITICAL RULES
- Output ONLY the JSON object, no explanations, no extra keys.

### Now extract the datetime from this email:

Subject: %s

%s`, subject, body)
}

func detectTransfersPrompt(candidates []TransferCandidate) (string, error) {
	payload, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal candidates: %w", err)
	}

	return fmt.Sprintf(`You are an AI that detects internal movements: pairs of bank notifications that are actually ONE transfer between two accounts owned by the same user (e.g. "Transferencia" from a savings account arriving in a checking account).

You receive a JSON list of transactions, each with id, amount, direction (outgoing/incoming), occurred_at and the raw notification body.

Return a STRICT JSON object with exactly these keys:

{
  "matched_ids": [],
  "pairs": []
}

pairs entries have the shape {"outgoing_id": "", "incoming_id": "", "reason": ""}.

### MATCHING CRITERIA (all must hold)
- Exact amount equality.
- Timestamps within a couple of minutes of each other.
- Opposite directions: one outgoing, one incoming.
- Textual evidence of a transfer between accounts of the same provider/app.

### CRITICAL RULES
- When in doubt, do NOT flag a pair. False negatives are acceptable, false positives are not.
- matched_ids must contain exactly the ids appearing in pairs, nothing else.
- Output ONLY the JSON object, no explanations, no extra keys.

### Transactions:

%s`, string(payload)), nil
}
