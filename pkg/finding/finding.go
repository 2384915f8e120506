package finding

import "encoding/json"

// StatusNew is the workflow status Security Hub assigns to a finding nobody has acted on yet.
const StatusNew = "NEW"

// Finding is a normalized Security Hub finding as seen by the dispatcher.
// Only Title and Status take part in routing; everything else rides along.
type Finding struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Status     string          `json:"status"` // Workflow.Status: NEW / NOTIFIED / RESOLVED / SUPPRESSED
	ProductARN string          `json:"product_arn,omitempty"`
	AccountID  string          `json:"account_id,omitempty"`
	Region     string          `json:"region,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"` // original ASFF document
}

// asff mirrors the subset of the AWS Security Finding Format we read.
type asff struct {
	ID         string `json:"Id"`
	Title      string `json:"Title"`
	ProductArn string `json:"ProductArn"`
	AwsAccount string `json:"AwsAccountId"`
	Region     string `json:"Region"`
	Workflow   struct {
		Status string `json:"Status"`
	} `json:"Workflow"`
	WorkflowState string `json:"WorkflowState"`
}

// FromASFF decodes a single ASFF finding document.
func FromASFF(data []byte) (Finding, error) {
	var a asff
	if err := json.Unmarshal(data, &a); err != nil {
		return Finding{}, err
	}
	status := a.Workflow.Status
	if status == "" {
		// Older producers only set the deprecated WorkflowState field.
		status = a.WorkflowState
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Finding{
		ID:         a.ID,
		Title:      a.Title,
		Status:     status,
		ProductARN: a.ProductArn,
		AccountID:  a.AwsAccount,
		Region:     a.Region,
		Raw:        raw,
	}, nil
}
