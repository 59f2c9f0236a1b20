// Package service 包含了应用的业务逻辑层。
package service

import (
	"sort"
	"strings"

	"github.com/spf13/viper"

	"zerotrace-go/internal/model"
	"zerotrace-go/pkg/log"
)

// 单次检索最多返回的条目数。
const maxRetrievalResults = 3

// 问句中出现主题名本身时的额外加分。
const topicMatchBonus = 5

// KnowledgeService 定义了静态知识库的检索操作。
// 知识库在进程启动时加载，此后只读，无需加锁。
type KnowledgeService interface {
	// Search 返回按相关度降序排列的检索结果，至多 3 条。
	// 相关度 = 命中的关键词个数，问句包含主题名时额外 +5。
	// 无任何命中的条目被排除；同分保持条目的原始插入顺序。
	Search(query string) []model.RetrievalResult
	// Topics 返回全部主题名，按插入顺序。
	Topics() []string
}

type knowledgeService struct {
	entries []model.KnowledgeEntry
}

// NewKnowledgeService 创建知识库服务。path 指向 YAML 知识库文件，
// 为空或加载失败时回退到内置的参考条目。
func NewKnowledgeService(path string) KnowledgeService {
	entries := loadEntries(path)
	log.Infof("知识库加载完成，共 %d 个主题", len(entries))
	return &knowledgeService{entries: entries}
}

func loadEntries(path string) []model.KnowledgeEntry {
	if path == "" {
		return defaultEntries()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		log.Warnf("读取知识库文件失败，使用内置条目: %v", err)
		return defaultEntries()
	}
	var loaded struct {
		Entries []model.KnowledgeEntry `mapstructure:"entries"`
	}
	if err := v.Unmarshal(&loaded); err != nil || len(loaded.Entries) == 0 {
		log.Warnf("解析知识库文件失败，使用内置条目: %v", err)
		return defaultEntries()
	}
	return loaded.Entries
}

func (s *knowledgeService) Search(query string) []model.RetrievalResult {
	q := strings.ToLower(query)

	var results []model.RetrievalResult
	for _, entry := range s.entries {
		score := 0
		for _, kw := range entry.Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				score++
			}
		}
		topicHit := strings.Contains(q, strings.ToLower(entry.Topic))
		if topicHit {
			score += topicMatchBonus
		}
		if score == 0 && !topicHit {
			continue
		}
		results = append(results, model.RetrievalResult{
			Topic:     entry.Topic,
			Content:   entry.Content,
			Relevance: score,
		})
	}

	// 稳定排序：同分保持插入顺序
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > maxRetrievalResults {
		results = results[:maxRetrievalResults]
	}
	return results
}

func (s *knowledgeService) Topics() []string {
	topics := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		topics = append(topics, e.Topic)
	}
	return topics
}

// defaultEntries 是内置的参考知识库：ZeroTrace 产品文案。
func defaultEntries() []model.KnowledgeEntry {
	return []model.KnowledgeEntry{
		{
			Topic: "Blockchain Verification",
			Content: "Every completed erasure produces a certificate whose cryptographic fingerprint is " +
				"anchored on a public blockchain. Anyone holding the certificate can independently verify " +
				"that the erasure record existed at anchoring time and has not been altered since.",
			Keywords: []string{"blockchain", "verify", "verification", "tamper", "proof", "ledger", "anchor"},
		},
		{
			Topic: "Data Sanitization Methods",
			Content: "ZeroTrace implements NIST SP 800-88 Rev.1 Clear and Purge: multi-pass overwrite for " +
				"magnetic drives, firmware-level secure erase and crypto-erase for SSDs and NVMe, and " +
				"factory-reset plus key destruction for mobile devices.",
			Keywords: []string{"wipe", "erase", "sanitize", "sanitization", "overwrite", "nist", "800-88", "purge"},
		},
		{
			Topic: "Erasure Certificates",
			Content: "After each wipe the platform issues a digitally signed certificate listing device " +
				"identifiers, the sanitization method, operator, timestamps and the verification outcome. " +
				"Certificates export as PDF and JSON for audit trails.",
			Keywords: []string{"certificate", "report", "audit", "signed", "pdf", "evidence"},
		},
		{
			Topic: "Supported Devices",
			Content: "Supported targets include SATA and SAS hard drives, SSDs, NVMe drives, USB media, " +
				"Android and iOS devices, and entire servers via bootable PXE images.",
			Keywords: []string{"device", "drive", "ssd", "hdd", "nvme", "usb", "mobile", "android", "ios", "server"},
		},
		{
			Topic: "Compliance Standards",
			Content: "Erasure reports satisfy GDPR Article 17, HIPAA, SOX and ISO/IEC 27001 audit " +
				"requirements, and map to NIST SP 800-88 and IEEE 2883-2022 sanitization standards.",
			Keywords: []string{"compliance", "gdpr", "hipaa", "sox", "iso", "nist", "regulation", "standard", "legal"},
		},
		{
			Topic: "Pricing Plans",
			Content: "ZeroTrace offers pay-as-you-go per-device pricing, monthly team plans with pooled " +
				"device quotas, and enterprise licenses with on-premise deployment and priority support.",
			Keywords: []string{"price", "pricing", "cost", "plan", "license", "enterprise", "subscription"},
		},
	}
}
