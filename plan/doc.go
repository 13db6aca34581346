package plan

// The plan package turns the parsed statement into Query Nodes, the tree the
// code generator works on.
//
// 1) Build
//    Every SELECT, VALUES row and compound term becomes one Select node of
//    the Arena, nodes reference each other through NodeId. A compound query
//    is a chain linked by Prior/Next, the right-most node stands for the
//    whole chain and owns its ORDER BY and LIMIT. While building:
//
//    - common table expressions are expanded, a fresh copy per reference,
//      and a `setup UNION [ALL] recursive` body is marked recursive
//    - `*` and `t.*` are expanded to the columns of the FROM terms
//    - NATURAL, USING and ON terms are checked and folded, into WHERE for
//      inner joins and onto the FROM term for LEFT joins
//    - names are resolved into cursor/column pairs, each FROM term owns one
//      cursor number, unique in the arena
//    - ORDER BY terms are matched against the result set
//
// 2) Normalize
//    Before a simple select is coded the FROM subqueries are flattened into
//    it where that keeps the meaning of the query (Flatten), and WHERE terms
//    reading only one subquery are copied into it (PushDown). Both rewrite
//    through Subst, which never modifies the expressions it reads.
//
// 3) Aggregate analysis
//    AnalyzeAgg collects the aggregate functions and the columns an
//    aggregate query needs after the scan is over, the code generator
//    assigns their registers.
