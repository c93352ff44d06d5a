package parser

// Node is implemented by every AST node.
type Node interface {
	Pos() Position
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Program is the parsed form of one script.
type Program struct {
	Statements   []Stmt
	Tables       []*TableDef
	Params       []*ParamStmt
	Description  string
	SystemPrompt string
}

// base carries the position shared by all nodes.
type base struct {
	Position Position
}

func (b base) Pos() Position { return b.Position }

// ---------- Statements ----------

// RemStmt is a REM comment.
type RemStmt struct {
	base
	Text string
}

// PrintStmt is PRINT or WRITE.
type PrintStmt struct {
	base
	Args []Expr
}

// InputStmt reads a value from the dialog: INPUT ["prompt";] var.
type InputStmt struct {
	base
	Prompt Expr
	Target string
}

// TalkStmt sends one message to the user.
type TalkStmt struct {
	base
	Value Expr
}

// TalkBlock is a BEGIN TALK ... END TALK capture block.
type TalkBlock struct {
	base
	Lines []string
	End   int // source line of END TALK
}

// SystemPromptBlock is a BEGIN SYSTEM PROMPT ... END SYSTEM PROMPT block.
type SystemPromptBlock struct {
	base
	Text string
	End  int
}

// HearStmt waits for user input: HEAR var [AS kind | AS option, ...].
type HearStmt struct {
	base
	Target  string
	Kind    string
	Options []Expr
}

// AssignStmt is a bare assignment.
type AssignStmt struct {
	base
	Target Expr
	Value  Expr
}

// ExprStmt is an expression evaluated for its effect, usually a call.
type ExprStmt struct {
	base
	X Expr
}

// IfStmt is IF ... THEN ... [ELSEIF ...] [ELSE ...] END IF. An ELSEIF chain
// is represented as an Else holding a single IfStmt with ElseIf set.
type IfStmt struct {
	base
	Cond   Expr
	Then   []Stmt
	Else   []Stmt
	ElseIf bool
	Inline bool
	End    int
}

// ForStmt is a counted FOR ... TO ... [STEP ...] loop.
type ForStmt struct {
	base
	Var  string
	From Expr
	To   Expr
	Step Expr
	Body []Stmt
	End  int
}

// ForEachStmt is FOR EACH var IN collection ... NEXT.
type ForEachStmt struct {
	base
	Var        string
	Collection Expr
	Body       []Stmt
	End        int
}

// WhileStmt is DO WHILE ... LOOP.
type WhileStmt struct {
	base
	Cond Expr
	Body []Stmt
	End  int
}

// FunctionStmt is FUNCTION name(params) ... END FUNCTION.
type FunctionStmt struct {
	base
	Name   string
	Params []string
	Body   []Stmt
	End    int
}

// ReturnStmt returns from a FUNCTION.
type ReturnStmt struct {
	base
	Value Expr
}

// ExitStmt is EXIT [FOR|DO|FUNCTION].
type ExitStmt struct {
	base
	Kind string
}

// OpenStmt is OPEN path [FOR mode] [AS|WITH #name][, username, password].
type OpenStmt struct {
	base
	Path     Expr
	Mode     string
	Handle   string
	Username Expr
	Password Expr
}

// CloseStmt is CLOSE #name.
type CloseStmt struct {
	base
	Handle string
}

// SelectStmt is a SELECT query against a dataset variable.
type SelectStmt struct {
	base
	Target string
	Table  string
	SQL    string
}

// TableStmt is a TABLE ... END TABLE block.
type TableStmt struct {
	base
	Def *TableDef
}

// ParamStmt declares a caller-supplied parameter.
type ParamStmt struct {
	base
	Name        string
	Type        string
	Example     string
	Description string
}

// DescriptionStmt describes the script as a callable function.
type DescriptionStmt struct {
	base
	Text string
}

// MacroStmt is a domain statement rewritten by the keyword rule table.
type MacroStmt struct {
	base
	Source string
	Lines  []string
}

func (*RemStmt) stmtNode()           {}
func (*PrintStmt) stmtNode()         {}
func (*InputStmt) stmtNode()         {}
func (*TalkStmt) stmtNode()          {}
func (*TalkBlock) stmtNode()         {}
func (*SystemPromptBlock) stmtNode() {}
func (*HearStmt) stmtNode()          {}
func (*AssignStmt) stmtNode()        {}
func (*ExprStmt) stmtNode()          {}
func (*IfStmt) stmtNode()            {}
func (*ForStmt) stmtNode()           {}
func (*ForEachStmt) stmtNode()       {}
func (*WhileStmt) stmtNode()         {}
func (*FunctionStmt) stmtNode()      {}
func (*ReturnStmt) stmtNode()        {}
func (*ExitStmt) stmtNode()          {}
func (*OpenStmt) stmtNode()          {}
func (*CloseStmt) stmtNode()         {}
func (*SelectStmt) stmtNode()        {}
func (*TableStmt) stmtNode()         {}
func (*ParamStmt) stmtNode()         {}
func (*DescriptionStmt) stmtNode()   {}
func (*MacroStmt) stmtNode()         {}

// ---------- Expressions ----------

// Ident is a variable or function name.
type Ident struct {
	base
	Name string
}

// StringLit is a quoted string.
type StringLit struct {
	base
	Value string
}

// NumberLit keeps the number as written.
type NumberLit struct {
	base
	Raw string
}

// BoolLit is TRUE or FALSE.
type BoolLit struct {
	base
	Value bool
}

// NullLit is NULL or NOTHING.
type NullLit struct {
	base
}

// BinaryExpr uses normalized operators: or and == != < > <= >= + - * / %.
type BinaryExpr struct {
	base
	Op    string
	Left  Expr
	Right Expr
}

// UnaryExpr is "not" or "-".
type UnaryExpr struct {
	base
	Op string
	X  Expr
}

// CallExpr is fn(args).
type CallExpr struct {
	base
	Fn   Expr
	Args []Expr
}

// MemberExpr is x.name.
type MemberExpr struct {
	base
	X    Expr
	Name string
}

// IndexExpr is x[index].
type IndexExpr struct {
	base
	X     Expr
	Index Expr
}

// ListLit is [a, b, c].
type ListLit struct {
	base
	Elems []Expr
}

// ParenExpr is (x).
type ParenExpr struct {
	base
	X Expr
}

func (*Ident) exprNode()      {}
func (*StringLit) exprNode()  {}
func (*NumberLit) exprNode()  {}
func (*BoolLit) exprNode()    {}
func (*NullLit) exprNode()    {}
func (*BinaryExpr) exprNode() {}
func (*UnaryExpr) exprNode()  {}
func (*CallExpr) exprNode()   {}
func (*MemberExpr) exprNode() {}
func (*IndexExpr) exprNode()  {}
func (*ListLit) exprNode()    {}
func (*ParenExpr) exprNode()  {}
