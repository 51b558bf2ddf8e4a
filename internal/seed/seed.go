// Package seed provides the starter corpus for a fresh index: built-in
// FAQs about the exporter's products and quoting process, plus optional
// corpus files in YAML.
package seed

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"camaron/internal/rag"
)

// FAQ is one question/answer pair.
type FAQ struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
	Category string `yaml:"category,omitempty"`
}

// Document is a free-form corpus entry.
type Document struct {
	Content  string            `yaml:"content"`
	Type     string            `yaml:"type,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// Corpus is a set of seedable entries.
type Corpus struct {
	FAQs      []FAQ      `yaml:"faqs,omitempty"`
	Documents []Document `yaml:"documents,omitempty"`
}

// LoadFile reads a YAML corpus file.
func LoadFile(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse corpus file %s: %w", path, err)
	}
	return &c, nil
}

// Apply indexes the corpus into svc in one batch. Returns the number of
// documents indexed.
func Apply(ctx context.Context, svc *rag.Service, c *Corpus) int {
	var docs []rag.BatchDocument

	for _, faq := range c.FAQs {
		category := faq.Category
		if category == "" {
			category = "general"
		}
		docs = append(docs, rag.BatchDocument{
			Content: fmt.Sprintf("Question: %s\nAnswer: %s", faq.Question, faq.Answer),
			Type:    rag.TypeFAQ,
			Extra: map[string]string{
				"question": faq.Question,
				"category": category,
			},
		})
	}
	for _, doc := range c.Documents {
		docs = append(docs, rag.BatchDocument{
			Content: doc.Content,
			Type:    doc.Type,
			Extra:   doc.Metadata,
		})
	}

	return len(svc.IndexBatch(ctx, docs))
}

// Builtin returns the default corpus: exporter FAQs covering products,
// sizes, glaze, Incoterms, and the quoting process.
func Builtin() *Corpus {
	return &Corpus{
		FAQs: []FAQ{
			{
				Question: "What shrimp products are available?",
				Answer: `We offer a full range of premium shrimp products:
- HOSO (Head On Shell On): whole shrimp with head and shell
- HLSO (Head Less Shell On): headless, shell on, the usual tail product
- P&D IQF (Peeled & Deveined): individually quick frozen
- P&D BLOCK: peeled and deveined, block frozen
- EZ PEEL: shell on with a back cut for easy peeling
- PuD-EUROPE: premium grade for the European market
- PuD-USA: specifications for the US market
- COOKED: ready to eat
- PRE-COOKED: partially cooked for further processing`,
				Category: "products",
			},
			{
				Question: "What shrimp sizes are available?",
				Answer: `Sizes are counts per pound:
- U15: under 15 shrimp per pound, jumbo
- 16/20: extra large
- 21/25: large
- 26/30: medium large
- 31/35: medium
- 36/40, 40/50, 41/50
- 50/60, 51/60, 60/70, 61/70
- 70/80, 71/90: small`,
				Category: "products",
			},
			{
				Question: "What is glaze and how does it affect the price?",
				Answer: `Glaze is a layer of frozen water applied to shrimp to protect it
during storage and transport.

Common percentages:
- 10% glaze: minimal, "drier" product
- 20% glaze: standard, balance of protection and net weight
- 30% glaze: extra protection, common for export

Glaze affects price because buyers pay for gross weight but receive
less net product. With 20% glaze, 1 kg gross contains 800 g of shrimp.

Conversion formula: net price = FOB price x (1 - glaze%)`,
				Category: "pricing",
			},
			{
				Question: "What is the difference between FOB and CFR prices?",
				Answer: `FOB (Free On Board) and CFR (Cost and Freight) are Incoterms:

FOB (port of origin):
- The seller delivers the goods at the loading port
- The buyer pays ocean freight
- Base price without international transport

CFR (port of destination):
- The seller pays freight to the destination port
- Price = FOB + ocean freight

Example: if FOB = $5.00/kg and freight = $0.35/kg, CFR = $5.35/kg`,
				Category: "pricing",
			},
			{
				Question: "What does 100% NET mean in prices?",
				Answer: `100% NET means the price is per net shrimp weight, excluding glaze.

A "100% NET" price:
- Is the real price of the shrimp product
- Does not include the weight of the protective ice layer
- Makes supplier comparisons meaningful

Conversion: a $5.00/kg 100% NET price with 20% glaze applied becomes
$5.00 x 0.80 = $4.00/kg gross.`,
				Category: "pricing",
			},
			{
				Question: "How do I request a quote?",
				Answer: `To request a quote, provide:

1. Product: HLSO, HOSO, P&D, etc.
2. Size: 16/20, 21/25, etc.
3. Glaze: 10%, 20%, 30%
4. Quantity: kilograms or pounds
5. Destination: port or city (for CFR pricing)

You can simply write your request naturally, for example:
- "I need a price for HLSO 16/20 with 20% glaze"
- "Quote for 1000 kg of P&D 21/25 CFR Miami"

The assistant will ask for whatever is missing.`,
				Category: "process",
			},
			{
				Question: "What payment methods are accepted?",
				Answer: `Accepted payment methods:

1. International wire transfer: the usual method for exports
2. Letter of credit (L/C): for large orders, secure for both parties
3. Advance payment: typically a 30-50% deposit for new customers

Specific terms are negotiated by volume and relationship.`,
				Category: "process",
			},
			{
				Question: "What is the typical delivery time?",
				Answer: `Delivery times vary by destination:

Production: 1-2 weeks after order confirmation

Approximate ocean transit:
- US East Coast: 10-14 days
- US West Coast: 18-21 days
- Europe (Spain, Portugal): 18-25 days
- Asia: 25-35 days

Total time from order to delivery is roughly 3-5 weeks. Air freight
is available for urgent orders at additional cost.`,
				Category: "logistics",
			},
			{
				Question: "What is the minimum order?",
				Answer: `Minimum order depends on the shipment type:

Full container (FCL):
- 20' container: ~18-20 metric tons
- 40' container: ~25-28 metric tons
- Best price per kilogram

Consolidated cargo (LCL):
- Minimum 1-2 metric tons
- Slightly higher price per kg, good for market trials`,
				Category: "logistics",
			},
		},
		Documents: []Document{
			{
				Content: `Ecuadorian shrimp (Litopenaeus vannamei) is recognized worldwide
for superior quality. Ecuador is one of the leading shrimp exporters,
with warm waters ideal for farming. Characteristics include sweet
flavor and firm texture, high protein content, sustainable farming,
and full traceability from farm to shipment.`,
				Type:     rag.TypeProduct,
				Metadata: map[string]string{"topic": "quality", "source": "builtin"},
			},
			{
				Content: `All facilities operate under HACCP, BRC, and BAP certification
and are FDA registered, with product traceability from farm to
shipment.`,
				Type:     rag.TypePolicy,
				Metadata: map[string]string{"topic": "certifications", "source": "builtin"},
			},
		},
	}
}
