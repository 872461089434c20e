package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v2"
)

// Document is a batch submitted by the intent compiler
type Document struct {
	State        State
	Transactions []*Transaction
	Groups       []*AtomicGroup
}

type (
	documentYAML struct {
		State        map[string]float64  `yaml:"state,omitempty"`
		Groups       map[string][]string `yaml:"groups,omitempty"`
		Transactions []transactionYAML   `yaml:"transactions"`
	}

	transactionYAML struct {
		ID         string          `yaml:"id"`
		After      []string        `yaml:"after,omitempty"`
		Transfer   *transferYAML   `yaml:"transfer,omitempty"`
		Guards     []interface{}   `yaml:"guards,omitempty"`
		Operations []operationYAML `yaml:"operations,omitempty"`
		Verify     []interface{}   `yaml:"verify,omitempty"`
	}

	transferYAML struct {
		From   string  `yaml:"from"`
		To     string  `yaml:"to"`
		Amount float64 `yaml:"amount"`
	}

	operationYAML struct {
		Read   interface{} `yaml:"read,omitempty"`
		Assign interface{} `yaml:"assign,omitempty"`
		Value  interface{} `yaml:"value,omitempty"`
	}
)

var ErrCodec = errors.New("batch document error")

// DecodeDocument parses YAML batch document
func DecodeDocument(data []byte) (*Document, error) {
	var doc documentYAML
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	ret := &Document{
		State:        make(State),
		Transactions: make([]*Transaction, 0, len(doc.Transactions)),
	}
	for k, v := range doc.State {
		ret.State[Key(k)] = v
	}
	byID := make(map[TxID]*Transaction)
	for i := range doc.Transactions {
		tx, err := doc.Transactions[i].decode()
		if err != nil {
			return nil, fmt.Errorf("%w: transaction #%d: %v", ErrCodec, i, err)
		}
		ret.Transactions = append(ret.Transactions, tx)
		byID[tx.ID] = tx
	}
	names := make([]string, 0, len(doc.Groups))
	for name := range doc.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		grp := &AtomicGroup{Name: name}
		for _, id := range doc.Groups[name] {
			tx, ok := byID[TxID(id)]
			if !ok {
				return nil, fmt.Errorf("%w: group '%s' references unknown transaction '%s'", ErrCodec, name, id)
			}
			grp.Transactions = append(grp.Transactions, tx)
		}
		ret.Groups = append(ret.Groups, grp)
	}
	return ret, nil
}

// EncodeDocument YAML form of the document. Transfers are written in the expanded form
func EncodeDocument(doc *Document) ([]byte, error) {
	out := documentYAML{
		Transactions: make([]transactionYAML, 0, len(doc.Transactions)),
	}
	if len(doc.State) > 0 {
		out.State = make(map[string]float64, len(doc.State))
		for k, v := range doc.State {
			out.State[string(k)] = v
		}
	}
	if len(doc.Groups) > 0 {
		out.Groups = make(map[string][]string, len(doc.Groups))
		for _, g := range doc.Groups {
			out.Groups[g.Name] = TxIDStrings(g.IDs())
		}
	}
	for _, tx := range doc.Transactions {
		out.Transactions = append(out.Transactions, encodeTransaction(tx))
	}
	return yaml.Marshal(&out)
}

// DocumentDigest blake2b-256 of the encoded document, hex
func DocumentDigest(doc *Document) (string, []byte, error) {
	data, err := EncodeDocument(doc)
	if err != nil {
		return "", nil, err
	}
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:]), data, nil
}

func (t *transactionYAML) decode() (*Transaction, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	var tx *Transaction
	if t.Transfer != nil {
		if len(t.Operations) > 0 {
			return nil, fmt.Errorf("tx %s: 'transfer' cannot be combined with 'operations'", t.ID)
		}
		tx = Transfer(TxID(t.ID), t.Transfer.From, t.Transfer.To, t.Transfer.Amount)
	} else {
		tx = &Transaction{ID: TxID(t.ID)}
	}
	for _, a := range t.After {
		tx.After = append(tx.After, TxID(a))
	}
	for _, g := range t.Guards {
		e, err := decodeExpr(g)
		if err != nil {
			return nil, fmt.Errorf("tx %s, guard: %v", t.ID, err)
		}
		tx.Guards = append(tx.Guards, e)
	}
	for i, op := range t.Operations {
		switch {
		case op.Read != nil && op.Assign == nil && op.Value == nil:
			target, err := decodeExpr(op.Read)
			if err != nil {
				return nil, fmt.Errorf("tx %s, operation #%d: %v", t.ID, i, err)
			}
			tx.Operations = append(tx.Operations, Read(target))
		case op.Assign != nil && op.Read == nil:
			target, err := decodeExpr(op.Assign)
			if err != nil {
				return nil, fmt.Errorf("tx %s, operation #%d: %v", t.ID, i, err)
			}
			value, err := decodeExpr(op.Value)
			if err != nil {
				return nil, fmt.Errorf("tx %s, operation #%d, value: %v", t.ID, i, err)
			}
			tx.Operations = append(tx.Operations, Assign(target, value))
		default:
			return nil, fmt.Errorf("tx %s, operation #%d: must be either 'read' or 'assign' with 'value'", t.ID, i)
		}
	}
	for _, v := range t.Verify {
		e, err := decodeExpr(v)
		if err != nil {
			return nil, fmt.Errorf("tx %s, verify: %v", t.ID, err)
		}
		tx.Verify = append(tx.Verify, e)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

var (
	binaryArith = map[string]ArithOp{"add": OpAdd, "sub": OpSub, "mul": OpMul, "div": OpDiv}
	binaryCmp   = map[string]CmpOp{"lt": CmpLt, "le": CmpLe, "gt": CmpGt, "ge": CmpGe, "eq": CmpEq, "ne": CmpNe}
	arithNames  = map[ArithOp]string{OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div"}
	cmpNames    = map[CmpOp]string{CmpLt: "lt", CmpLe: "le", CmpGt: "gt", CmpGe: "ge", CmpEq: "eq", CmpNe: "ne"}
)

func toFloat(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func decodeExpr(v interface{}) (Expr, error) {
	if v == nil {
		return nil, fmt.Errorf("missing expression")
	}
	if s, ok := v.(string); ok {
		return F(Key(s)), nil
	}
	if f, ok := toFloat(v); ok {
		return C(f), nil
	}
	m, ok := v.(map[interface{}]interface{})
	if !ok || len(m) != 1 {
		return nil, fmt.Errorf("expression must be a field name, a number or a single-key map, got %v", v)
	}
	for k, arg := range m {
		op, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("wrong expression operator %v", k)
		}
		return decodeNode(op, arg)
	}
	panic("unreachable")
}

func decodeNode(op string, arg interface{}) (Expr, error) {
	if aop, ok := binaryArith[op]; ok {
		l, r, err := decodePair(op, arg)
		if err != nil {
			return nil, err
		}
		return Binary{Op: aop, L: l, R: r}, nil
	}
	if cop, ok := binaryCmp[op]; ok {
		l, r, err := decodePair(op, arg)
		if err != nil {
			return nil, err
		}
		return Compare{Op: cop, L: l, R: r}, nil
	}
	switch op {
	case "const":
		f, ok := toFloat(arg)
		if !ok {
			return nil, fmt.Errorf("'const' expects a number, got %v", arg)
		}
		return C(f), nil
	case "field", "old":
		s, ok := arg.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("'%s' expects a key, got %v", op, arg)
		}
		if op == "old" {
			return OldOf(Key(s)), nil
		}
		return F(Key(s)), nil
	case "neg", "not":
		x, err := decodeExpr(arg)
		if err != nil {
			return nil, err
		}
		if op == "neg" {
			return Minus(x), nil
		}
		return Negate(x), nil
	case "and", "or":
		lst, ok := arg.([]interface{})
		if !ok || len(lst) == 0 {
			return nil, fmt.Errorf("'%s' expects a non-empty list", op)
		}
		args := make([]Expr, len(lst))
		for i := range lst {
			e, err := decodeExpr(lst[i])
			if err != nil {
				return nil, err
			}
			args[i] = e
		}
		if op == "and" {
			return And(args...), nil
		}
		return Or(args...), nil
	case "dynamic":
		m, ok := arg.(map[interface{}]interface{})
		if !ok {
			return nil, fmt.Errorf("'dynamic' expects a map with 'prefix', 'index' and 'field'")
		}
		prefix, _ := m["prefix"].(string)
		field, _ := m["field"].(string)
		if prefix == "" {
			return nil, fmt.Errorf("'dynamic' requires 'prefix'")
		}
		idx, err := decodeExpr(m["index"])
		if err != nil {
			return nil, fmt.Errorf("'dynamic' index: %v", err)
		}
		return Dyn(prefix, idx, field), nil
	}
	return nil, fmt.Errorf("unknown expression operator '%s'", op)
}

func decodePair(op string, arg interface{}) (Expr, Expr, error) {
	lst, ok := arg.([]interface{})
	if !ok || len(lst) != 2 {
		return nil, nil, fmt.Errorf("'%s' expects a list of two arguments", op)
	}
	l, err := decodeExpr(lst[0])
	if err != nil {
		return nil, nil, err
	}
	r, err := decodeExpr(lst[1])
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func encodeTransaction(tx *Transaction) transactionYAML {
	ret := transactionYAML{
		ID:    string(tx.ID),
		After: TxIDStrings(tx.After),
	}
	if len(ret.After) == 0 {
		ret.After = nil
	}
	for _, g := range tx.Guards {
		ret.Guards = append(ret.Guards, encodeExpr(g))
	}
	for _, op := range tx.Operations {
		if op.Kind == OpAssign {
			ret.Operations = append(ret.Operations, operationYAML{Assign: encodeExpr(op.Target), Value: encodeExpr(op.Value)})
		} else {
			ret.Operations = append(ret.Operations, operationYAML{Read: encodeExpr(op.Target)})
		}
	}
	for _, v := range tx.Verify {
		ret.Verify = append(ret.Verify, encodeExpr(v))
	}
	return ret
}

func encodeExpr(e Expr) interface{} {
	switch e := e.(type) {
	case Const:
		return map[string]interface{}{"const": e.Value}
	case Field:
		return string(e.Key)
	case Old:
		return map[string]interface{}{"old": string(e.Key)}
	case Dynamic:
		d := map[string]interface{}{"prefix": e.Prefix, "index": encodeExpr(e.Index)}
		if e.Field != "" {
			d["field"] = e.Field
		}
		return map[string]interface{}{"dynamic": d}
	case Neg:
		return map[string]interface{}{"neg": encodeExpr(e.X)}
	case Not:
		return map[string]interface{}{"not": encodeExpr(e.X)}
	case Binary:
		return map[string]interface{}{arithNames[e.Op]: []interface{}{encodeExpr(e.L), encodeExpr(e.R)}}
	case Compare:
		return map[string]interface{}{cmpNames[e.Op]: []interface{}{encodeExpr(e.L), encodeExpr(e.R)}}
	case Logical:
		args := make([]interface{}, len(e.Args))
		for i := range e.Args {
			args[i] = encodeExpr(e.Args[i])
		}
		if e.Op == LogicAnd {
			return map[string]interface{}{"and": args}
		}
		return map[string]interface{}{"or": args}
	}
	return nil
}
