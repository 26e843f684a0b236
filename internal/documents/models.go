package documents

import (
	"time"

	"github.com/BaSui01/contractflow/agent"
)

// Document 已上传的合同文档
type Document struct {
	ID        string    `gorm:"primaryKey;size:64" json:"doc_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Content   string    `gorm:"type:text;not null" json:"-"`
	Size      int64     `gorm:"default:0" json:"size"`
	CreatedAt time.Time `gorm:"index" json:"uploaded_at"`
}

// TableName 表名
func (Document) TableName() string { return "cf_documents" }

// Playbook 策略手册，Rules 原样作为运行的策略规则
type Playbook struct {
	ID        string       `gorm:"primaryKey;size:64" json:"playbook_id"`
	Name      string       `gorm:"size:255;not null" json:"name"`
	Rules     agent.Policy `gorm:"serializer:json;type:text" json:"rules"`
	CreatedAt time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TableName 表名
func (Playbook) TableName() string { return "cf_playbooks" }

// 示例数据 ID
const (
	SampleDocumentID = "doc_001"
	SamplePlaybookID = "playbook_001"
)

const sampleNDA = `# Non-Disclosure Agreement

## 1. Confidential Information
The parties agree to protect confidential information disclosed during the term of this agreement.

## 2. Obligations
Recipient shall not disclose confidential information to third parties without prior written consent.

## 3. Liability
Company shall be liable for any and all damages arising from breach of this agreement, including but not limited to direct, indirect, incidental, consequential, and punitive damages.

## 4. Term
This agreement shall remain in effect for a period of five (5) years from the date of execution.`

// sampleDocument 开发环境示例 NDA
func sampleDocument(now time.Time) Document {
	return Document{
		ID:        SampleDocumentID,
		Name:      "Sample_NDA.md",
		Content:   sampleNDA,
		Size:      int64(len(sampleNDA)),
		CreatedAt: now,
	}
}

// samplePlaybook 标准 NDA 策略
func samplePlaybook(now time.Time) Playbook {
	return Playbook{
		ID:   SamplePlaybookID,
		Name: "Standard NDA Policy",
		Rules: agent.Policy{
			"liability_cap":        "12 months fees",
			"data_retention":       "90 days post-termination",
			"indemnity_exclusions": []any{"force majeure", "third-party claims"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
